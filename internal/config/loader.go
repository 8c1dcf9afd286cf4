package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/flagrace/pkg/metrics"
)

const (
	envPrefix  = "FLAGRACE_"
	envFileVar = "FLAGRACE_CONFIG"
)

// sections are the nested config blocks reachable from the environment.
var sections = []string{"anomaly", "metrics"} //nolint:gochecknoglobals // fixed table

var metricNamePart = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FLAGRACE_CONFIG is set
//  3. env (prefix FLAGRACE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FLAGRACE_QUEUE_SIZE -> queue_size, FLAGRACE_ANOMALY_WINDOW_SIZE -> anomaly.window_size,
	// FLAGRACE_METRICS_NAMESPACE -> metrics.namespace.
	envProvider := env.Provider(envPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable name to a koanf key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

// Validate checks the configuration and reports every violated field.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+":"+fe.Tag())
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
	}
	return c.Metrics.validate()
}

func (m Metrics) validate() error {
	for _, part := range []string{m.Namespace, m.Subsystem} {
		if !metricNamePart.MatchString(part) {
			return fmt.Errorf("%w: metrics name part %q", ErrInvalidConfig, part)
		}
	}
	if !metrics.IncreasingBuckets(m.LatencyBucketsMS) {
		return fmt.Errorf("%w: metrics.latency_buckets_ms must be strictly increasing", ErrInvalidConfig)
	}
	return nil
}
