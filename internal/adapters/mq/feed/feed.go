// Package feed is an in-process change feed. Notifications are "something
// changed" signals; subscribers re-read state instead of trusting payloads,
// so a slow subscriber simply misses notifications.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// Topic names a feed.
type Topic string

// Feed topics.
const (
	TopicTeams         Topic = "teams"
	TopicLevels        Topic = "levels"
	TopicEvents        Topic = "events"
	TopicLeaderboard   Topic = "leaderboard"
	TopicAnnouncements Topic = "announcements"
)

// Topics lists every topic the broker carries.
func Topics() []Topic {
	return []Topic{TopicTeams, TopicLevels, TopicEvents, TopicLeaderboard, TopicAnnouncements}
}

// ParseTopic validates a topic name.
func ParseTopic(s string) (Topic, error) {
	for _, t := range Topics() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
}

// Notification is a single change signal.
type Notification struct {
	Topic   Topic     `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Broker fans notifications out to subscriptions.
type Broker struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*Subscription]struct{}
	closed bool
	buffer int
	logger logger.Logger
}

// NewBroker creates a broker carrying every topic.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[Topic]map[*Subscription]struct{}),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("feed")
	}
	for _, t := range Topics() {
		b.subs[t] = make(map[*Subscription]struct{})
	}
	return b
}

// Subscription receives notifications for its topics until closed.
type Subscription struct {
	broker *Broker
	topics []Topic
	ch     chan Notification
	once   sync.Once
}

// C returns the delivery channel. It is closed when the subscription or the
// broker is closed.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Topics returns the subscribed topics.
func (s *Subscription) Topics() []Topic { return s.topics }

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// Subscribe registers a subscription for one or more topics.
func (b *Broker) Subscribe(topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topic given", ErrUnknownTopic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	for _, t := range topics {
		if _, ok := b.subs[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, t)
		}
	}

	s := &Subscription{broker: b, topics: topics, ch: make(chan Notification, b.buffer)}
	for _, t := range topics {
		b.subs[t][s] = struct{}{}
		metrics.UpdateFeedSubscribers(string(t), len(b.subs[t]))
	}
	return s, nil
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range s.topics {
		delete(b.subs[t], s)
		metrics.UpdateFeedSubscribers(string(t), len(b.subs[t]))
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers a notification to every subscription of topic without
// blocking. Subscriptions whose buffer is full drop it.
func (b *Broker) Publish(ctx context.Context, topic Topic, payload any) {
	n := Notification{Topic: topic, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs[topic] {
		select {
		case s.ch <- n:
		default:
			metrics.RecordFeedDropped(string(topic))
			b.logger.Debug(ctx, "feed subscriber lagging, notification dropped", logger.String("topic", string(topic)))
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for t, subs := range b.subs {
		for s := range subs {
			s.once.Do(func() { close(s.ch) })
			delete(subs, s)
		}
		metrics.UpdateFeedSubscribers(string(t), 0)
	}
}
