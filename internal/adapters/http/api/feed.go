package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/flagrace/internal/adapters/mq/feed"
	"github.com/okian/flagrace/pkg/logger"
)

// FeedDependencies defines the interface for change feed subscriptions.
type FeedDependencies interface {
	Subscribe(topics ...feed.Topic) (*feed.Subscription, error)
}

// FeedHandler streams change notifications as server-sent events.
type FeedHandler struct {
	deps      FeedDependencies
	heartbeat time.Duration
	logger    logger.Logger
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(deps FeedDependencies, heartbeat time.Duration, l logger.Logger) *FeedHandler {
	return &FeedHandler{deps: deps, heartbeat: heartbeat, logger: l}
}

// HandleFeed handles GET /feed?topics=a,b. Without topics every topic is
// streamed. The subscription is released when the client goes away or the
// service stops.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	const op = "api.feed"
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeFailure(w, op, NewKind(op, ErrStreaming))
		return
	}
	sub, err := h.deps.Subscribe(topics...)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	h.logger.Debug(ctx, "feed client connected", logger.String("remote", clientIP(r)), logger.Int("topics", len(sub.Topics())))
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case n, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				h.logger.Warn(ctx, "feed notification not encodable", logger.String("topic", string(n.Topic)), logger.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseTopics(raw string) ([]feed.Topic, error) {
	if strings.TrimSpace(raw) == "" {
		return feed.Topics(), nil
	}
	var out []feed.Topic
	for _, part := range strings.Split(raw, ",") {
		t, err := feed.ParseTopic(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
