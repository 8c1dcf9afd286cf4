// Package service wires the scoring engine together and implements the
// operations the HTTP API and the admin CLI expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/flagrace/internal/adapters/mq/feed"
	eventqueue "github.com/okian/flagrace/internal/adapters/mq/queue"
	workerpool "github.com/okian/flagrace/internal/adapters/mq/worker"
	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/anomaly"
	"github.com/okian/flagrace/internal/domain/dedupe"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/ranking"
	"github.com/okian/flagrace/internal/domain/scoring"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

const (
	maxAnnouncements  = 50
	stopTimeout       = 10 * time.Second
	resetDrainTimeout = 30 * time.Second
)

// View is the read model rebuilt by the view loop whenever a feed fires.
type View struct {
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
	Matrix      MatrixView               `json:"matrix"`
	BuiltAt     time.Time                `json:"built_at"`
}

// Service implements the API dependencies for the scoring engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Repository
	deduper     dedupe.Deduper
	eventQueue  *eventqueue.InMemoryQueue
	workerPool  *workerpool.Pool
	aggregator  *scoring.Aggregator
	projector   *ranking.Projector
	detector    *anomaly.Detector
	coordinator *lifecycle.Coordinator
	broker      *feed.Broker

	// Configuration
	workerCount    int
	queueSize      int
	dedupeSize     int
	maxRetries     int
	resetBatchSize int
	maxLimit       int
	thresholds     anomaly.Thresholds
	seedFile       string
	now            func() time.Time

	// Flag checks and their log appends are serialized so a level is
	// solved at most once per team.
	submitMu sync.Mutex

	// Every ingest holds ingestMu shared; a reset takes it exclusively to
	// set resetting, which waits out appends already in progress.
	ingestMu  sync.RWMutex
	resetting bool

	annMu         sync.RWMutex
	announcements []model.Announcement

	view atomic.Pointer[View]

	// State
	started  bool
	cancel   context.CancelFunc
	viewDone chan struct{}

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU() * 2,
		queueSize:      10_000,
		dedupeSize:     100_000,
		maxRetries:     3,
		resetBatchSize: 500,
		maxLimit:       100,
		thresholds:     anomaly.DefaultThresholds(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the components, loads the seed file and starts the
// workers and the view loop. The workers outlive ctx; Stop ends them.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting scoring service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.broker = feed.NewBroker()
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.aggregator = scoring.NewAggregator(s.store)
	s.projector = ranking.NewProjector(s.store, ranking.WithOnRefresh(func(entries []model.LeaderboardEntry) {
		s.broker.Publish(context.Background(), feed.TopicLeaderboard, len(entries))
	}))
	s.detector = anomaly.NewDetector(s.thresholds)
	s.coordinator = lifecycle.NewCoordinator(s.store,
		lifecycle.WithBatchSize(s.resetBatchSize),
		lifecycle.WithDeduper(s.deduper),
		lifecycle.WithQuiesce(s.quiesce),
		lifecycle.WithOnReset(func() {
			ctx := context.Background()
			s.broker.Publish(ctx, feed.TopicTeams, nil)
			s.broker.Publish(ctx, feed.TopicEvents, nil)
			s.broker.Publish(ctx, feed.TopicLeaderboard, 0)
		}),
	)

	if s.seedFile != "" {
		seed, err := LoadSeed(s.seedFile)
		if err != nil {
			return err
		}
		if err := s.applySeed(ctx, seed); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.aggregator,
		workerpool.WithMaxRetries(s.maxRetries),
		workerpool.WithRefresher(s.projector),
		workerpool.WithOnApplied(func(ctx context.Context, e model.Event) {
			s.broker.Publish(ctx, feed.TopicEvents, e.ID())
			s.broker.Publish(ctx, feed.TopicTeams, e.TeamID())
		}),
	)
	s.workerPool.Start(runCtx)

	sub, err := s.broker.Subscribe(feed.TopicTeams, feed.TopicLevels, feed.TopicEvents)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe view loop: %w", err)
	}
	s.viewDone = make(chan struct{})
	s.rebuildView(runCtx)
	go s.viewLoop(runCtx, sub)

	s.started = true
	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// quiesce rejects new events and waits until every accepted event has been
// applied, so nothing lands on the aggregates behind a reset.
func (s *Service) quiesce(ctx context.Context) (func(), error) {
	s.ingestMu.Lock()
	s.resetting = true
	s.ingestMu.Unlock()

	resume := func() {
		s.ingestMu.Lock()
		s.resetting = false
		s.ingestMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, resetDrainTimeout)
	defer cancel()
	if err := s.workerPool.Drain(ctx); err != nil {
		resume()
		return nil, err
	}
	s.logger.Info(ctx, "ingestion paused for reset")
	return resume, nil
}

// admit holds ingestion open until release is called. It fails with
// ErrResetInProgress while a reset holds ingestion.
func (s *Service) admit() (release func(), err error) {
	s.ingestMu.RLock()
	if s.resetting {
		s.ingestMu.RUnlock()
		metrics.RecordEventRejected("reset_in_progress")
		return nil, fmt.Errorf("ingest: %w", lifecycle.ErrResetInProgress)
	}
	return s.ingestMu.RUnlock, nil
}

// viewLoop recomputes the cached view on every change notification. It owns
// sub and releases it on every exit path.
func (s *Service) viewLoop(ctx context.Context, sub *feed.Subscription) {
	defer close(s.viewDone)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			s.rebuildView(ctx)
		}
	}
}

// rebuildView is a pure recomputation from current state; running it twice
// in a row is harmless.
func (s *Service) rebuildView(ctx context.Context) {
	entries := s.projector.Read(ctx)
	mv, err := s.matrixView(ctx)
	if err != nil {
		s.logger.Warn(ctx, "solve matrix rebuild failed", logger.Error(err))
		if prev := s.view.Load(); prev != nil {
			mv = prev.Matrix
		}
	}
	s.view.Store(&View{Leaderboard: entries, Matrix: mv, BuiltAt: s.now().UTC()})
}

// Stop drains the queue, stops the workers and the view loop, and closes
// the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping scoring service...")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	<-s.viewDone
	s.broker.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "scoring service stopped")
	return errors.Join(errs...)
}

// running returns ErrNotStarted until Start succeeded.
func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Subscribe opens a change feed on topics. Callers must Close it.
func (s *Service) Subscribe(topics ...feed.Topic) (*feed.Subscription, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.broker.Subscribe(topics...)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.eventQueue.Len(ctx)
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = s.deduper.Size()
	stats["resetState"] = s.coordinator.Status().State
	if teams, err := s.store.ListTeams(ctx); err == nil {
		stats["totalTeams"] = len(teams)
		metrics.UpdateTotalTeams(len(teams))
	}
	if n, err := s.store.CountSubmissions(ctx, repository.SubmissionFilter{}); err == nil {
		stats["totalSubmissions"] = n
	}
	if v := s.view.Load(); v != nil {
		stats["viewBuiltAt"] = v.BuiltAt
	}
	metrics.UpdateQueueSize(queueLen)
	return stats
}

// CurrentView returns the latest view built by the view loop.
func (s *Service) CurrentView() (View, bool) {
	v := s.view.Load()
	if v == nil {
		return View{}, false
	}
	return *v, true
}
