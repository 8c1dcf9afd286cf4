package repository

import (
	"context"
	"time"
)

const (
	defaultTimeout   = 2 * time.Second
	defaultKeyPrefix = "flagrace:"
)

type options struct {
	timeout   time.Duration
	keyPrefix string
}

func newOptions(opts []Option) options {
	o := options{timeout: defaultTimeout, keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// bound derives the per-call context used for backend round trips.
func (o options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithKeyPrefix sets the Redis key prefix of the projection.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}
