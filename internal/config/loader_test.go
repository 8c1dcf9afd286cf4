package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/flagrace/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "memory")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FLAGRACE_ADDR", ":8080")
			_ = os.Setenv("FLAGRACE_QUEUE_SIZE", "5000")
			_ = os.Setenv("FLAGRACE_WORKER_COUNT", "16")
			_ = os.Setenv("FLAGRACE_MAX_RETRIES", "5")
			_ = os.Setenv("FLAGRACE_ANOMALY_FAST_SOLVE_SECONDS", "45")
			_ = os.Setenv("FLAGRACE_METRICS_NAMESPACE", "ctf")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 5000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.MaxRetries, convey.ShouldEqual, 5)
				convey.So(cfg.Anomaly.FastSolveSeconds, convey.ShouldEqual, 45)
				convey.So(cfg.Anomaly.FastSolveCount, convey.ShouldEqual, 2)
				convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "ctf")
				convey.So(cfg.Metrics.Subsystem, convey.ShouldEqual, "scoring")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
queue_size: 3000
store_backend: sqlite
sqlite_dsn: "file::memory:"
reset_batch_size: 50
anomaly:
  max_incorrect_per_level: 4
  window_size: 50
metrics:
  subsystem: finals
  latency_buckets_ms: [1, 10, 100]
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLAGRACE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load values and keep defaults for the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 3000)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendSQLite)
				convey.So(cfg.SQLiteDSN, convey.ShouldEqual, "file::memory:")
				convey.So(cfg.ResetBatchSize, convey.ShouldEqual, 50)
				convey.So(cfg.Anomaly.MaxIncorrectPerLevel, convey.ShouldEqual, 4)
				convey.So(cfg.Anomaly.WindowSize, convey.ShouldEqual, 50)
				convey.So(cfg.Anomaly.SimultaneousMinTeams, convey.ShouldEqual, 2)
				convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "flagrace")
				convey.So(cfg.Metrics.Subsystem, convey.ShouldEqual, "finals")
				convey.So(cfg.Metrics.LatencyBucketsMS, convey.ShouldResemble, []float64{1, 10, 100})
			})
		})

		convey.Convey("When both file and environment variables are set", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
worker_count: 24
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLAGRACE_CONFIG", tmpFile)
			_ = os.Setenv("FLAGRACE_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When the YAML file is invalid", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLAGRACE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file does not exist", func() {
			_ = os.Setenv("FLAGRACE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a numeric variable is not a number", func() {
			_ = os.Setenv("FLAGRACE_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file leaves addr empty", func() {
			tmpFile := createTempConfigFile(`addr: ""`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLAGRACE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the projection backend is unknown", func() {
			_ = os.Setenv("FLAGRACE_PROJECTION_BACKEND", "memcached")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"FLAGRACE_CONFIG",
		"FLAGRACE_ADDR",
		"FLAGRACE_QUEUE_SIZE",
		"FLAGRACE_WORKER_COUNT",
		"FLAGRACE_MAX_RETRIES",
		"FLAGRACE_PROJECTION_BACKEND",
		"FLAGRACE_ANOMALY_FAST_SOLVE_SECONDS",
		"FLAGRACE_METRICS_NAMESPACE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "flagrace-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
