// Package config defines service configuration and its loading from
// defaults, an optional YAML file and FLAGRACE_ environment variables.
package config

import (
	"runtime"
	"time"
)

// Storage and projection backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size" validate:"gt=0"`

	// WorkerCount sets the number of aggregation workers.
	WorkerCount int `koanf:"worker_count" validate:"gt=0"`

	// DedupeSize sets the size of the front-line duplicate filter.
	DedupeSize int `koanf:"dedupe_size" validate:"gt=0"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"gt=0"`

	// StoreBackend selects where teams, levels and the event log live.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory sqlite"`
	SQLiteDSN    string `koanf:"sqlite_dsn" validate:"required_if=StoreBackend sqlite"`

	// ProjectionBackend selects where the ranked leaderboard is kept.
	ProjectionBackend string `koanf:"projection_backend" validate:"oneof=memory redis"`
	RedisAddr         string `koanf:"redis_addr" validate:"required_if=ProjectionBackend redis"`
	RedisPassword     string `koanf:"redis_password"`
	RedisDB           int    `koanf:"redis_db" validate:"gte=0"`

	// StoreTimeoutMS bounds every storage call.
	StoreTimeoutMS int `koanf:"store_timeout_ms" validate:"gt=0"`

	// MaxRetries caps requeues of an event after retryable failures.
	MaxRetries int `koanf:"max_retries" validate:"gte=0"`

	// ResetBatchSize is the number of log rows deleted per reset batch.
	ResetBatchSize int `koanf:"reset_batch_size" validate:"gt=0"`

	// SeedFile optionally points to a YAML file with teams and levels.
	SeedFile string `koanf:"seed_file"`

	// IngestRatePerSec and IngestBurst configure the per-client ingest limiter.
	// A zero rate disables limiting.
	IngestRatePerSec float64 `koanf:"ingest_rate_per_sec" validate:"gte=0"`
	IngestBurst      int     `koanf:"ingest_burst" validate:"gte=0"`

	// Anomaly holds detector thresholds.
	Anomaly Anomaly `koanf:"anomaly"`

	// Metrics names and shapes the Prometheus collectors.
	Metrics Metrics `koanf:"metrics"`
}

// Metrics configures the Prometheus collectors.
type Metrics struct {
	Namespace string `koanf:"namespace" validate:"required"`
	Subsystem string `koanf:"subsystem" validate:"required"`
	// LatencyBucketsMS must be strictly increasing.
	LatencyBucketsMS []float64 `koanf:"latency_buckets_ms" validate:"required,min=1"`
}

// Anomaly configures the anomaly detector.
type Anomaly struct {
	FastSolveCount            int `koanf:"fast_solve_count" validate:"gt=0"`
	FastSolveSeconds          int `koanf:"fast_solve_seconds" validate:"gt=0"`
	MaxIncorrectPerLevel      int `koanf:"max_incorrect_per_level" validate:"gt=0"`
	SimultaneousMinSolves     int `koanf:"simultaneous_min_solves" validate:"gt=0"`
	SimultaneousMinTeams      int `koanf:"simultaneous_min_teams" validate:"gt=0"`
	SimultaneousBucketSeconds int `koanf:"simultaneous_bucket_seconds" validate:"gt=0"`
	WindowSize                int `koanf:"window_size" validate:"gt=0"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          100_000,
		MaxLeaderboardLimit: 100,
		StoreBackend:        BackendMemory,
		SQLiteDSN:           "file:flagrace.db?_pragma=busy_timeout(5000)",
		ProjectionBackend:   BackendMemory,
		RedisAddr:           "localhost:6379",
		StoreTimeoutMS:      2000,
		MaxRetries:          3,
		ResetBatchSize:      500,
		IngestRatePerSec:    20,
		IngestBurst:         40,
		Anomaly: Anomaly{
			FastSolveCount:            2,
			FastSolveSeconds:          30,
			MaxIncorrectPerLevel:      10,
			SimultaneousMinSolves:     3,
			SimultaneousMinTeams:      2,
			SimultaneousBucketSeconds: 60,
			WindowSize:                200,
		},
		Metrics: Metrics{
			Namespace:        "flagrace",
			Subsystem:        "scoring",
			LatencyBucketsMS: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	}
}

// StoreTimeout returns the per-call storage timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}
