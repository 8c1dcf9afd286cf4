package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okian/flagrace/internal/adapters/mq/feed"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
)

// Seed lists the teams and levels registered on startup.
type Seed struct {
	Teams  []model.Team  `yaml:"teams"`
	Levels []model.Level `yaml:"levels"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Unknown fields are rejected.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for _, t := range seed.Teams {
		if err := model.Validate(t); err != nil {
			return Seed{}, fmt.Errorf("seed team %q: %w", t.ID, err)
		}
	}
	for _, l := range seed.Levels {
		if err := model.Validate(l); err != nil {
			return Seed{}, fmt.Errorf("seed level %q: %w", l.ID, err)
		}
	}
	return seed, nil
}

// applySeed upserts the seed. Existing teams keep their aggregates.
func (s *Service) applySeed(ctx context.Context, seed Seed) error {
	for _, t := range seed.Teams {
		if err := s.store.UpsertTeam(ctx, t); err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}
	for _, l := range seed.Levels {
		if err := s.store.UpsertLevel(ctx, l); err != nil {
			return fmt.Errorf("seed level %s: %w", l.ID, err)
		}
	}
	s.broker.Publish(ctx, feed.TopicTeams, nil)
	s.broker.Publish(ctx, feed.TopicLevels, nil)
	s.logger.Info(ctx, "seed loaded", logger.Int("teams", len(seed.Teams)), logger.Int("levels", len(seed.Levels)))
	return nil
}

// ApplySeed registers teams and levels on a running service.
func (s *Service) ApplySeed(ctx context.Context, seed Seed) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.applySeed(ctx, seed)
}
