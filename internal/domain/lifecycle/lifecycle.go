// Package lifecycle resets a competition and exports its state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/dedupe"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// State of the last reset.
type State string

// Reset states.
const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateIncomplete State = "incomplete"
	StateComplete   State = "complete"
)

// Pass names, in execution order.
const (
	PassQuiesce     = "quiesce"
	PassSubmissions = "submissions"
	PassHints       = "hints"
	PassProjection  = "projection"
	PassTeams       = "teams"
	PassProcessed   = "processed"
)

// Result summarizes a reset run.
type Result struct {
	SubmissionsDeleted int           `json:"submissions_deleted"`
	HintsDeleted       int           `json:"hints_deleted"`
	TeamsReset         int           `json:"teams_reset"`
	FailedPass         string        `json:"failed_pass,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// Status is the coordinator state reported to operators.
type Status struct {
	State      State     `json:"state"`
	FailedPass string    `json:"failed_pass,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is what the coordinator reads and clears.
type Store interface {
	repository.EventLog
	repository.ProjectionStore
	repository.EventConfigStore
	ListTeams(ctx context.Context) ([]model.Team, error)
	ListLevels(ctx context.Context) ([]model.Level, error)
	ZeroTeams(ctx context.Context) (int, error)
	ClearProcessed(ctx context.Context) error
}

// QuiesceFunc stops every writer of the store and waits for in-flight
// writes to land. The returned resume lets writers continue. On error
// nothing may stay paused.
type QuiesceFunc func(ctx context.Context) (resume func(), err error)

// Coordinator runs multi-step resets and snapshot exports. A reset is a
// sequence of idempotent passes, not a transaction: a failure leaves the
// state incomplete until a rerun finishes.
type Coordinator struct {
	store     Store
	deduper   dedupe.Deduper
	batchSize int
	quiesce   QuiesceFunc
	onReset   func()
	logger    logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	status Status
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		batchSize: 500,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("lifecycle")
	}
	c.status = Status{State: StateIdle, UpdatedAt: c.now()}
	return c
}

// Status returns the state of the last reset.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ResetCompetition clears the event log, the projection and the processed-id
// ledger, and zeroes every team aggregate. Teams and levels are kept. Writers
// stay quiesced from before the first delete until the last pass ends.
func (c *Coordinator) ResetCompetition(ctx context.Context) (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}

	start := c.now()
	var res Result
	var resume func()
	defer func() {
		if resume != nil {
			resume()
		}
	}()
	passes := []struct {
		name string
		run  func(context.Context) error
	}{
		{PassQuiesce, func(ctx context.Context) (err error) {
			if c.quiesce == nil {
				return nil
			}
			resume, err = c.quiesce(ctx)
			return err
		}},
		{PassSubmissions, func(ctx context.Context) (err error) {
			res.SubmissionsDeleted, err = c.drain(ctx, c.store.DeleteSubmissions)
			return err
		}},
		{PassHints, func(ctx context.Context) (err error) {
			res.HintsDeleted, err = c.drain(ctx, c.store.DeleteHints)
			return err
		}},
		{PassProjection, c.store.ClearProjection},
		{PassTeams, func(ctx context.Context) (err error) {
			res.TeamsReset, err = c.store.ZeroTeams(ctx)
			return err
		}},
		{PassProcessed, c.clearProcessed},
	}

	for _, p := range passes {
		if err := p.run(ctx); err != nil {
			res.FailedPass = p.name
			res.Duration = c.now().Sub(start)
			c.finish(StateIncomplete, p.name, err)
			metrics.RecordResetPassError(p.name)
			metrics.RecordResetRun("incomplete")
			c.logger.Error(ctx, "reset pass failed", logger.String("pass", p.name), logger.Error(err))
			return res, fmt.Errorf("%w: pass %s: %w", ErrPartialReset, p.name, err)
		}
	}

	res.Duration = c.now().Sub(start)
	c.finish(StateComplete, "", nil)
	metrics.RecordResetRun("complete")
	c.logger.Info(ctx, "competition reset",
		logger.Int("submissions", res.SubmissionsDeleted),
		logger.Int("hints", res.HintsDeleted),
		logger.Int("teams", res.TeamsReset),
		logger.Duration("duration", res.Duration),
	)
	if c.onReset != nil {
		c.onReset()
	}
	return res, nil
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State == StateRunning {
		return ErrResetInProgress
	}
	c.status = Status{State: StateRunning, UpdatedAt: c.now()}
	return nil
}

func (c *Coordinator) finish(state State, pass string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{State: state, FailedPass: pass, UpdatedAt: c.now()}
	if err != nil {
		c.status.Error = err.Error()
	}
}

// drain calls del until a batch comes back short.
func (c *Coordinator) drain(ctx context.Context, del func(context.Context, int) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := del(ctx, c.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < c.batchSize {
			return total, nil
		}
	}
}

func (c *Coordinator) clearProcessed(ctx context.Context) error {
	if err := c.store.ClearProcessed(ctx); err != nil {
		return err
	}
	if c.deduper != nil {
		c.deduper.Reset(ctx)
	}
	return nil
}

// ExportSnapshot reads every part of the state concurrently. Parts are read
// independently, so they may reflect slightly different instants. An
// uninitialized competition exports without event settings.
func (c *Coordinator) ExportSnapshot(ctx context.Context) (model.Snapshot, error) {
	snap := model.Snapshot{ExportedAt: c.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cfg, err := c.store.GetEventConfig(gctx)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("event config: %w", err)
		}
		snap.Event = &cfg
		return nil
	})
	g.Go(func() (err error) {
		if snap.Teams, err = c.store.ListTeams(gctx); err != nil {
			return fmt.Errorf("teams: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.Levels, err = c.store.ListLevels(gctx); err != nil {
			return fmt.Errorf("levels: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.Submissions, err = c.store.ListSubmissions(gctx, repository.SubmissionFilter{}); err != nil {
			return fmt.Errorf("submissions: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.Hints, err = c.store.ListHints(gctx, repository.HintFilter{}); err != nil {
			return fmt.Errorf("hints: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.Leaderboard, err = c.store.ReadProjection(gctx); err != nil {
			return fmt.Errorf("leaderboard: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.Snapshot{}, fmt.Errorf("export snapshot: %w", err)
	}
	metrics.RecordExport()
	return snap, nil
}
