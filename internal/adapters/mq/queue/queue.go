// Package queue carries applied-to-be events from ingestion to the workers.
//
// Delivery is at least once: a worker that hits a transient store failure
// puts the item back with its attempt count bumped. Handlers are idempotent,
// so a redelivered item is harmless.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Item is an event plus how many times delivery was attempted before.
type Item struct {
	Event   model.Event
	Attempt int
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an item. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, it Item) bool

	// Dequeue returns a channel of items. The channel is closed once the
	// queue is closed and drained, or when ctx ends.
	Dequeue(ctx context.Context) <-chan Item

	// Ack marks one dequeued item as finished. A requeued item is enqueued
	// before the original is acked.
	Ack()

	// Pending counts items enqueued and not yet acked, including items a
	// worker holds.
	Pending() int

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int
	pending  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds an item without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) bool { //nolint:gocritic // hugeParam: items are passed by value through the channel
	return q.TryEnqueue(ctx, it) == nil
}

// TryEnqueue is Enqueue reporting why an item was rejected.
func (q *InMemoryQueue) TryEnqueue(ctx context.Context, it Item) error { //nolint:gocritic // hugeParam: items are passed by value through the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return ErrCanceled
	}

	select {
	case q.items <- it:
		q.pending.Add(1)
		q.observe()
		return nil
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that receives items as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-q.items:
				if !ok {
					return
				}
				q.observe()
				select {
				case out <- it:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Ack marks one dequeued item as finished.
func (q *InMemoryQueue) Ack() {
	if q.pending.Add(-1) < 0 {
		q.pending.Store(0)
	}
}

// Pending returns the number of items enqueued and not yet acked.
func (q *InMemoryQueue) Pending() int {
	return int(q.pending.Load())
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.observe()
}

func (q *InMemoryQueue) observe() int {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close stops accepting items. Buffered items are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
