package scoring

import "github.com/okian/flagrace/pkg/logger"

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithLogger sets the aggregator logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
