package lifecycle

import (
	"time"

	"github.com/okian/flagrace/internal/domain/dedupe"
	"github.com/okian/flagrace/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithBatchSize sets how many log entries one delete call removes.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithDeduper registers the front-line deduper cleared by the last pass.
func WithDeduper(d dedupe.Deduper) Option {
	return func(c *Coordinator) {
		c.deduper = d
	}
}

// WithQuiesce registers the hook that pauses writers for the length of a reset.
func WithQuiesce(fn QuiesceFunc) Option {
	return func(c *Coordinator) {
		c.quiesce = fn
	}
}

// WithOnReset registers a callback invoked after a reset completes.
func WithOnReset(fn func()) Option {
	return func(c *Coordinator) {
		c.onReset = fn
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
