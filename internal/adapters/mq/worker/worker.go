// Package worker runs the score aggregator over queued events.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/flagrace/internal/adapters/mq/queue"
	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/scoring"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxRetries       = 3
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
	drainPollInterval       = 5 * time.Millisecond
)

// Applier applies one event to the team aggregates.
type Applier interface {
	Apply(ctx context.Context, e model.Event) (scoring.Outcome, error)
}

// Refresher rebuilds the leaderboard projection.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Queue is where workers read items and put retries back. Every item
// received from Dequeue is acked once processing is over.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
	Enqueue(ctx context.Context, it queue.Item) bool
	Ack()
	Pending() int
}

// Worker processes queued events.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker applies events read from a queue.
type InMemoryWorker struct {
	queue      Queue
	applier    Applier
	refresher  Refresher
	onApplied  func(ctx context.Context, e model.Event)
	maxRetries int
	name       string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		applier:    applier,
		maxRetries: defaultMaxRetries,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			if err := w.process(ctx, it); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
			w.queue.Ack()
		}
	}
}

// Shutdown stops the worker and waits for the current event to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) stop() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// process applies one item. Transient failures are put back on the queue
// with the same event id until the retry budget is spent.
func (w *InMemoryWorker) process(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam: items are passed by value through the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	outcome, err := w.applier.Apply(ctx, it.Event)
	if err != nil {
		if repository.IsRetryable(err) && it.Attempt < w.maxRetries {
			next := queue.Item{Event: it.Event, Attempt: it.Attempt + 1}
			if w.queue.Enqueue(ctx, next) {
				metrics.RecordEventRetried()
				w.logger.Warn(ctx, "transient failure, event requeued",
					logger.String("eventID", it.Event.ID()),
					logger.Int("attempt", next.Attempt),
					logger.Error(err),
				)
				return nil
			}
		}
		return fmt.Errorf("apply event %s (attempt %d): %w", it.Event.ID(), it.Attempt, err)
	}

	if outcome != scoring.OutcomeApplied {
		return nil
	}
	if w.refresher != nil {
		if err := w.refresher.Refresh(ctx); err != nil {
			// The projection catches up on the next refresh; reads fall back meanwhile.
			w.logger.Warn(ctx, "projection refresh failed", logger.Error(err))
		}
	}
	if w.onApplied != nil {
		w.onApplied(ctx, it.Event)
	}
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown     chan struct{}
	shutdownOnce sync.Once

	logger logger.Logger
}

// NewPool creates workerCount workers. opts are applied to every worker.
func NewPool(workerCount int, q Queue, applier Applier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, applier, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically publishes runtime gauges.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			metrics.UpdateSystemMemoryUsage(ms.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
			if ms.NumGC > 0 {
				metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / float64(time.Millisecond))
			}
		}
	}
}

// Drain waits until every enqueued item, retries included, has been
// processed. Callers stop producing first; otherwise Drain may never return.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for p.queue.Pending() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain queue: %d pending: %w", p.queue.Pending(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Shutdown closes the queue and lets the workers drain it. Workers still
// busy when ctx (or the pool timeout) ends are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	timedOut := false
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			w.stop()
			p.logger.Warn(ctx, "worker did not drain in time", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
