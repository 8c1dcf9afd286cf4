package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/flagrace/internal/adapters/mq/queue"
	"github.com/okian/flagrace/internal/adapters/mq/worker"
	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/ranking"
	"github.com/okian/flagrace/internal/domain/scoring"
	logging "github.com/okian/flagrace/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// flakyApplier times out the first failures calls, then succeeds.
type flakyApplier struct {
	failures int32
	calls    atomic.Int32
	attempts sync.Map
}

func (f *flakyApplier) Apply(_ context.Context, e model.Event) (scoring.Outcome, error) {
	n := f.calls.Add(1)
	f.attempts.Store(e.ID(), n)
	if n <= f.failures {
		return "", fmt.Errorf("store call: %w", context.DeadlineExceeded)
	}
	return scoring.OutcomeApplied, nil
}

func submission(id, team string) model.Event {
	return model.NewSubmissionEvent(model.SubmissionRecorded{
		ID: id, TeamID: team, LevelID: "l1", Status: model.StatusCorrect,
		ScoreAwarded: 100, TimeTaken: 60, SubmittedAt: time.Now().UnixMilli(),
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a real aggregator", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := repository.NewMemoryStore()
		_ = store.UpsertTeam(ctx, model.Team{ID: "t1", Name: "One"})
		_ = store.UpsertLevel(ctx, model.Level{ID: "l1", Name: "L", BasePoints: 100, HintType: model.HintPoints, IsActive: true})
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		projector := ranking.NewProjector(store)

		var applied atomic.Int32
		w := worker.NewInMemoryWorker(q, scoring.NewAggregator(store),
			worker.WithName("test-worker"),
			worker.WithRefresher(projector),
			worker.WithOnApplied(func(context.Context, model.Event) { applied.Add(1) }),
		)
		go w.Run(ctx)

		convey.Convey("When a correct submission is queued twice", func() {
			e := submission("s1", "t1")
			q.Enqueue(ctx, queue.Item{Event: e})
			q.Enqueue(ctx, queue.Item{Event: e})

			convey.Convey("Then the aggregate changes once and the projection follows", func() {
				convey.So(waitFor(func() bool { return q.Len(ctx) == 0 && applied.Load() == 1 }), convey.ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				team, _ := store.GetTeam(ctx, "t1")
				convey.So(team.Score, convey.ShouldEqual, 100)
				convey.So(applied.Load(), convey.ShouldEqual, 1)
				proj, _ := store.ReadProjection(ctx)
				convey.So(len(proj), convey.ShouldEqual, 1)
				convey.So(proj[0].Score, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			sctx, scancel := context.WithTimeout(ctx, time.Second)
			defer scancel()

			convey.Convey("Then it stops promptly and a second shutdown is harmless", func() {
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given an applier that times out twice", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		applier := &flakyApplier{failures: 2}

		convey.Convey("When the retry budget covers the failures", func() {
			w := worker.NewInMemoryWorker(q, applier, worker.WithMaxRetries(3))
			go w.Run(ctx)
			q.Enqueue(ctx, queue.Item{Event: submission("s1", "t1")})

			convey.Convey("Then the event is redelivered until it applies", func() {
				convey.So(waitFor(func() bool { return applier.calls.Load() == 3 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the retry budget is too small", func() {
			w := worker.NewInMemoryWorker(q, applier, worker.WithMaxRetries(1))
			go w.Run(ctx)
			q.Enqueue(ctx, queue.Item{Event: submission("s1", "t1")})

			convey.Convey("Then the event is given up after the last attempt", func() {
				convey.So(waitFor(func() bool { return applier.calls.Load() == 2 }), convey.ShouldBeTrue)
				time.Sleep(30 * time.Millisecond)
				convey.So(applier.calls.Load(), convey.ShouldEqual, 2)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		_ = logging.Init()
		ctx := context.Background()

		store := repository.NewMemoryStore()
		for i := 0; i < 5; i++ {
			_ = store.UpsertTeam(ctx, model.Team{ID: fmt.Sprintf("t%d", i), Name: "T"})
		}
		_ = store.UpsertLevel(ctx, model.Level{ID: "l1", Name: "L", BasePoints: 100, HintType: model.HintPoints, IsActive: true})
		q := queue.NewInMemoryQueue(queue.WithCapacity(200))
		pool := worker.NewPool(4, q, scoring.NewAggregator(store), worker.WithRefresher(ranking.NewProjector(store)))

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When events are queued and the pool shuts down", func() {
			for i := 0; i < 100; i++ {
				q.Enqueue(ctx, queue.Item{Event: submission(fmt.Sprintf("s%d", i), fmt.Sprintf("t%d", i%5))})
			}
			pool.Start(ctx)
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := pool.Shutdown(sctx)

			convey.Convey("Then the queue is drained before the workers stop", func() {
				convey.So(err, convey.ShouldBeNil)
				teams, _ := store.ListTeams(ctx)
				for _, team := range teams {
					convey.So(team.Score, convey.ShouldEqual, 2000)
					convey.So(team.LevelsCompleted, convey.ShouldEqual, 20)
				}
			})
		})

		convey.Convey("When a running pool is drained", func() {
			pool.Start(ctx)
			defer func() { _ = pool.Shutdown(ctx) }()
			for i := 0; i < 50; i++ {
				q.Enqueue(ctx, queue.Item{Event: submission(fmt.Sprintf("d%d", i), fmt.Sprintf("t%d", i%5))})
			}
			dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := pool.Drain(dctx)

			convey.Convey("Then every queued event was applied when it returns", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.Pending(), convey.ShouldEqual, 0)
				teams, _ := store.ListTeams(ctx)
				for _, team := range teams {
					convey.So(team.Score, convey.ShouldEqual, 1000)
				}
			})
		})

		convey.Convey("When nothing consumes the queue", func() {
			q.Enqueue(ctx, queue.Item{Event: submission("stuck", "t0")})
			dctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
			defer cancel()

			convey.Convey("Then Drain gives up when its context ends", func() {
				err := pool.Drain(dctx)
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				convey.So(q.Pending(), convey.ShouldEqual, 1)
			})
		})
	})
}
