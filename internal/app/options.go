package service

import (
	"time"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/anomaly"
	"github.com/okian/flagrace/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the front-line deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxRetries bounds requeues of an event after transient store failures.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithResetBatchSize sets how many log entries a reset deletes per call.
func WithResetBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.resetBatchSize = n
		}
	}
}

// WithMaxLeaderboardLimit caps the number of entries a leaderboard read returns.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithAnomalyThresholds sets the anomaly rule parameters.
func WithAnomalyThresholds(t anomaly.Thresholds) Option {
	return func(s *Service) {
		s.thresholds = t
	}
}

// WithRepository sets the storage backend. The service closes it on Stop.
func WithRepository(repo repository.Repository) Option {
	return func(s *Service) {
		if repo != nil {
			s.store = repo
		}
	}
}

// WithSeedFile loads teams and levels from a YAML file on Start.
func WithSeedFile(path string) Option {
	return func(s *Service) {
		s.seedFile = path
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
