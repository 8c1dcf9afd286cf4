package ranking

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// Store is what the projector reads and writes.
type Store interface {
	repository.ProjectionStore
	ListTeams(ctx context.Context) ([]model.Team, error)
	ListSubmissions(ctx context.Context, f repository.SubmissionFilter) ([]model.SubmissionRecorded, error)
}

// Projector maintains the leaderboard projection. The projection lags the
// aggregates and can always be re-derived from them.
type Projector struct {
	store     Store
	logger    logger.Logger
	onRefresh func(entries []model.LeaderboardEntry)

	// Serializes refreshes so a slow run never overwrites a newer one.
	mu sync.Mutex
}

// Option applies a configuration option to the Projector.
type Option func(*Projector)

// WithLogger sets the projector logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnRefresh registers a callback invoked after every successful refresh.
func WithOnRefresh(fn func(entries []model.LeaderboardEntry)) Option {
	return func(p *Projector) {
		p.onRefresh = fn
	}
}

// NewProjector creates a projector over store.
func NewProjector(store Store, opts ...Option) *Projector {
	p := &Projector{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("projector")
	}
	return p
}

// Derive computes the ranked view directly from the aggregates.
func (p *Projector) Derive(ctx context.Context) ([]model.LeaderboardEntry, error) {
	teams, err := p.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	subs, err := p.store.ListSubmissions(ctx, repository.SubmissionFilter{Status: model.StatusCorrect})
	if err != nil {
		return nil, fmt.Errorf("list correct submissions: %w", err)
	}
	return Project(teams, LastCorrect(subs)), nil
}

// Refresh re-derives the ranked view and replaces the projection with it.
func (p *Projector) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := p.Derive(ctx)
	if err == nil {
		err = p.store.ReplaceProjection(ctx, entries)
	}
	if err != nil {
		metrics.RecordProjectionRefresh("error")
		return fmt.Errorf("refresh projection: %w", err)
	}

	metrics.RecordProjectionRefresh("ok")
	metrics.UpdateProjectionSize(len(entries))
	if p.onRefresh != nil {
		p.onRefresh(entries)
	}
	return nil
}

// Read returns the ranked leaderboard. When the projection is empty or
// unreadable it derives the view from the aggregates instead; it never fails
// and returns an empty list when nothing can be read.
func (p *Projector) Read(ctx context.Context) []model.LeaderboardEntry {
	entries, err := p.store.ReadProjection(ctx)
	if err == nil && len(entries) > 0 {
		return entries
	}
	if err != nil {
		p.logger.Warn(ctx, "projection unreadable, deriving from aggregates", logger.Error(err))
	}

	metrics.RecordProjectionFallback()
	derived, derr := p.Derive(ctx)
	if derr != nil {
		p.logger.Error(ctx, "derive leaderboard failed", logger.Error(derr))
		return []model.LeaderboardEntry{}
	}
	return derived
}
