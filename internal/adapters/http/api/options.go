package api

import (
	"time"

	"github.com/okian/flagrace/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits ingest requests per client IP to perSec with the
// given burst. A zero rate disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(s *Server) {
		if perSec <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = NewRateLimiter(perSec, max(burst, 1))
	}
}

// WithHeartbeat sets the interval of keep-alive comments on the change feed.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger sets the logger used by the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
