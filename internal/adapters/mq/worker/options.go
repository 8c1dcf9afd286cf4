package worker

import (
	"context"

	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxRetries bounds how often a transient failure is requeued.
func WithMaxRetries(n int) Option {
	return func(w *InMemoryWorker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithRefresher sets the projection refreshed after every applied event.
func WithRefresher(r Refresher) Option {
	return func(w *InMemoryWorker) {
		w.refresher = r
	}
}

// WithOnApplied registers a callback run after an event changed an aggregate.
func WithOnApplied(fn func(ctx context.Context, e model.Event)) Option {
	return func(w *InMemoryWorker) {
		w.onApplied = fn
	}
}
