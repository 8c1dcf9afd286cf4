package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/dedupe"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/ranking"
	"github.com/okian/flagrace/internal/domain/scoring"
	"github.com/okian/flagrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyZero fails ZeroTeams while failing is set.
type flakyZero struct {
	*repository.MemoryStore
	failing atomic.Bool
}

func (f *flakyZero) ZeroTeams(ctx context.Context) (int, error) {
	if f.failing.Load() {
		return 0, errors.New("disk full")
	}
	return f.MemoryStore.ZeroTeams(ctx)
}

func seed(ctx context.Context, store *repository.MemoryStore, d dedupe.Deduper) {
	agg := scoring.NewAggregator(store)
	for i := 0; i < 3; i++ {
		_ = store.UpsertTeam(ctx, model.Team{ID: fmt.Sprintf("t%d", i), Name: "T", GroupID: "g1"})
	}
	_ = store.UpsertLevel(ctx, model.Level{ID: "l1", Name: "One", BasePoints: 100, HintType: model.HintTime, TimePenaltyMinutes: 5, IsActive: true})
	for i := 0; i < 7; i++ {
		s := model.SubmissionRecorded{
			ID: fmt.Sprintf("s%d", i), TeamID: fmt.Sprintf("t%d", i%3), LevelID: "l1",
			Status: model.StatusCorrect, ScoreAwarded: 100, TimeTaken: 60, SubmittedAt: int64(1000 + i),
		}
		_ = store.AppendSubmission(ctx, s)
		d.SeenAndRecord(ctx, s.ID)
		_, _ = agg.ApplySubmission(ctx, s)
	}
	h := model.HintUsed{ID: "h1", TeamID: "t0", LevelID: "l1", HintType: model.HintTime, Penalty: 5, UsedAt: 900}
	_ = store.AppendHint(ctx, h)
	_, _ = agg.ApplyHint(ctx, h)
	_ = ranking.NewProjector(store).Refresh(ctx)
}

func TestResetCompetition(t *testing.T) {
	_ = logger.Init()

	Convey("Given a competition in progress", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		d := dedupe.NewInMemoryDeduper()
		seed(ctx, store, d)

		resets := 0
		c := lifecycle.NewCoordinator(store, lifecycle.WithBatchSize(2), lifecycle.WithDeduper(d), lifecycle.WithOnReset(func() { resets++ }))
		So(c.Status().State, ShouldEqual, lifecycle.StateIdle)

		Convey("When the competition is reset", func() {
			res, err := c.ResetCompetition(ctx)
			So(err, ShouldBeNil)

			Convey("Then every aggregate is zero and the log and projection are empty", func() {
				So(res.SubmissionsDeleted, ShouldEqual, 7)
				So(res.HintsDeleted, ShouldEqual, 1)
				So(res.TeamsReset, ShouldEqual, 3)

				teams, _ := store.ListTeams(ctx)
				So(len(teams), ShouldEqual, 3)
				for _, team := range teams {
					So(team.Score, ShouldEqual, 0)
					So(team.LevelsCompleted, ShouldEqual, 0)
					So(team.TimePenalty, ShouldEqual, 0)
					So(team.HintsUsed, ShouldEqual, 0)
				}
				n, _ := store.CountSubmissions(ctx, repository.SubmissionFilter{})
				So(n, ShouldEqual, 0)
				hints, _ := store.ListHints(ctx, repository.HintFilter{})
				So(hints, ShouldBeEmpty)
				proj, _ := store.ReadProjection(ctx)
				So(proj, ShouldBeEmpty)
			})

			Convey("Then teams and levels survive", func() {
				levels, _ := store.ListLevels(ctx)
				So(len(levels), ShouldEqual, 1)
			})

			Convey("Then processed ids are forgotten everywhere", func() {
				So(d.Size(), ShouldEqual, 0)
				applied, err := store.ApplyTeamDelta(ctx, "s0", "t0", model.TeamDelta{Score: 1})
				So(err, ShouldBeNil)
				So(applied, ShouldBeTrue)
			})

			Convey("Then the state is complete and listeners are told", func() {
				So(c.Status().State, ShouldEqual, lifecycle.StateComplete)
				So(resets, ShouldEqual, 1)
			})

			Convey("Then a second reset is a harmless no-op", func() {
				res, err := c.ResetCompetition(ctx)
				So(err, ShouldBeNil)
				So(res.SubmissionsDeleted, ShouldEqual, 0)
				So(c.Status().State, ShouldEqual, lifecycle.StateComplete)
			})
		})
	})

	Convey("Given a store that fails to zero teams", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		seed(ctx, mem, dedupe.NewInMemoryDeduper())
		store := &flakyZero{MemoryStore: mem}
		store.failing.Store(true)

		resets := 0
		c := lifecycle.NewCoordinator(store, lifecycle.WithOnReset(func() { resets++ }))

		Convey("When a reset runs", func() {
			res, err := c.ResetCompetition(ctx)

			Convey("Then it reports the failing pass and stays incomplete", func() {
				So(errors.Is(err, lifecycle.ErrPartialReset), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, lifecycle.PassTeams)
				So(res.FailedPass, ShouldEqual, lifecycle.PassTeams)
				So(res.SubmissionsDeleted, ShouldEqual, 7)
				st := c.Status()
				So(st.State, ShouldEqual, lifecycle.StateIncomplete)
				So(st.FailedPass, ShouldEqual, lifecycle.PassTeams)
				So(st.Error, ShouldContainSubstring, "disk full")
				So(resets, ShouldEqual, 0)
			})

			Convey("Then a rerun after recovery completes", func() {
				store.failing.Store(false)
				_, err := c.ResetCompetition(ctx)
				So(err, ShouldBeNil)
				So(c.Status().State, ShouldEqual, lifecycle.StateComplete)
				team, _ := mem.GetTeam(ctx, "t0")
				So(team.Score, ShouldEqual, 0)
				So(resets, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a coordinator that quiesces writers", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		d := dedupe.NewInMemoryDeduper()
		seed(ctx, store, d)

		var calls []string
		var logAtPause, scoreAtResume int
		quiesceErr := error(nil)
		c := lifecycle.NewCoordinator(store, lifecycle.WithDeduper(d), lifecycle.WithQuiesce(func(ctx context.Context) (func(), error) {
			calls = append(calls, "quiesce")
			logAtPause, _ = store.CountSubmissions(ctx, repository.SubmissionFilter{})
			if quiesceErr != nil {
				return nil, quiesceErr
			}
			return func() {
				calls = append(calls, "resume")
				team, _ := store.GetTeam(ctx, "t0")
				scoreAtResume = int(team.Score) + int(d.Size())
			}, nil
		}))

		Convey("When a reset runs", func() {
			_, err := c.ResetCompetition(ctx)

			Convey("Then writers pause before the first delete and resume after the last pass", func() {
				So(err, ShouldBeNil)
				So(calls, ShouldResemble, []string{"quiesce", "resume"})
				So(logAtPause, ShouldEqual, 7)
				So(scoreAtResume, ShouldEqual, 0)
			})
		})

		Convey("When writers cannot be quiesced", func() {
			quiesceErr = errors.New("queue still busy")
			res, err := c.ResetCompetition(ctx)

			Convey("Then nothing is deleted and the reset stays incomplete", func() {
				So(errors.Is(err, lifecycle.ErrPartialReset), ShouldBeTrue)
				So(res.FailedPass, ShouldEqual, lifecycle.PassQuiesce)
				So(calls, ShouldResemble, []string{"quiesce"})
				n, _ := store.CountSubmissions(ctx, repository.SubmissionFilter{})
				So(n, ShouldEqual, 7)
				So(c.Status().State, ShouldEqual, lifecycle.StateIncomplete)
			})
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		mem := repository.NewMemoryStore()
		seed(context.Background(), mem, dedupe.NewInMemoryDeduper())
		cancel()

		Convey("When a reset runs", func() {
			_, err := lifecycle.NewCoordinator(mem).ResetCompetition(ctx)

			Convey("Then the first pass fails", func() {
				So(errors.Is(err, lifecycle.ErrPartialReset), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestExportSnapshot(t *testing.T) {
	_ = logger.Init()

	Convey("Given a competition with state", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store, dedupe.NewInMemoryDeduper())
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		c := lifecycle.NewCoordinator(store, lifecycle.WithClock(func() time.Time { return at }))

		Convey("When exported before initialization", func() {
			snap, err := c.ExportSnapshot(ctx)

			Convey("Then every part is present except the event settings", func() {
				So(err, ShouldBeNil)
				So(snap.ExportedAt.Equal(at), ShouldBeTrue)
				So(snap.Event, ShouldBeNil)
				So(len(snap.Teams), ShouldEqual, 3)
				So(len(snap.Levels), ShouldEqual, 1)
				So(len(snap.Submissions), ShouldEqual, 7)
				So(len(snap.Hints), ShouldEqual, 1)
				So(len(snap.Leaderboard), ShouldEqual, 3)
			})
		})

		Convey("When exported after initialization", func() {
			_ = store.SaveEventConfig(ctx, model.EventConfig{Name: "Finals", TotalTeams: 3, TotalGroups: 1, TotalLevels: 1, TeamsPerGroup: 3})
			snap, err := c.ExportSnapshot(ctx)

			Convey("Then the settings are included", func() {
				So(err, ShouldBeNil)
				So(snap.Event, ShouldNotBeNil)
				So(snap.Event.Name, ShouldEqual, "Finals")
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := c.ExportSnapshot(cctx)

			Convey("Then the export fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
