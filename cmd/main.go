package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/flagrace/internal/adapters/http/api"
	"github.com/okian/flagrace/internal/adapters/http/swagger"
	app "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/config"
	"github.com/okian/flagrace/internal/domain/anomaly"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "flagrace exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// run serves the API until ctx is cancelled.
func run(ctx context.Context) error {
	log := logger.Get()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	metrics.Init(metricsOptions(cfg.Metrics)...)

	repo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	svc := app.New(append(serviceOptions(cfg), app.WithLogger(log), app.WithRepository(repo))...)
	if err := svc.Start(ctx); err != nil {
		_ = repo.Close()
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	go startServiceMetricsUpdater(ctx, svc)

	srv := newHTTPServer(ctx, cfg, svc)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// serviceOptions translates configuration into service options.
func serviceOptions(cfg *config.Config) []app.Option {
	return []app.Option{
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxRetries(cfg.MaxRetries),
		app.WithResetBatchSize(cfg.ResetBatchSize),
		app.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
		app.WithSeedFile(cfg.SeedFile),
		app.WithAnomalyThresholds(anomalyThresholds(cfg.Anomaly)),
	}
}

// metricsOptions names and shapes the collectors from configuration.
func metricsOptions(m config.Metrics) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(m.Namespace),
		metrics.WithSubsystem(m.Subsystem),
		metrics.WithHistogramBuckets(m.LatencyBucketsMS),
	}
}

func anomalyThresholds(a config.Anomaly) anomaly.Thresholds {
	return anomaly.Thresholds{
		FastSolveCount:        a.FastSolveCount,
		FastSolveTime:         time.Duration(a.FastSolveSeconds) * time.Second,
		MaxIncorrectPerLevel:  a.MaxIncorrectPerLevel,
		SimultaneousMinSolves: a.SimultaneousMinSolves,
		SimultaneousMinTeams:  a.SimultaneousMinTeams,
		SimultaneousBucket:    time.Duration(a.SimultaneousBucketSeconds) * time.Second,
		WindowSize:            a.WindowSize,
	}
}

// newHTTPServer registers the API and its reference docs.
func newHTTPServer(ctx context.Context, cfg *config.Config, svc *app.Service) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithLogger(logger.Get().Named("api")),
		api.WithRateLimit(cfg.IngestRatePerSec, cfg.IngestBurst),
	).Register(ctx, mux)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      0, // the change feed streams indefinitely
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	// GetStats refreshes queue and team gauges itself
	stats := svc.GetStats(ctx)
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
