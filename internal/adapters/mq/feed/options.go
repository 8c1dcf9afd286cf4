package feed

import "github.com/okian/flagrace/pkg/logger"

// Option applies a configuration option to the Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}
