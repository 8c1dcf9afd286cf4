package model_test

import (
	"errors"
	"testing"

	model "github.com/okian/flagrace/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func validSubmission() model.SubmissionRecorded {
	return model.SubmissionRecorded{
		ID:           "sub-1",
		TeamID:       "team-x",
		LevelID:      "level-a",
		Status:       model.StatusCorrect,
		ScoreAwarded: 400,
		TimeTaken:    42,
		HintsUsed:    2,
		SubmittedAt:  1_700_000_000_000,
	}
}

func TestEventEnvelope(t *testing.T) {
	convey.Convey("Given event envelopes", t, func() {
		convey.Convey("When wrapping a submission", func() {
			e := model.NewSubmissionEvent(validSubmission())

			convey.Convey("Then the helpers expose its identity", func() {
				convey.So(e.Kind, convey.ShouldEqual, model.KindSubmissionRecorded)
				convey.So(e.ID(), convey.ShouldEqual, "sub-1")
				convey.So(e.TeamID(), convey.ShouldEqual, "team-x")
			})
		})

		convey.Convey("When wrapping a hint", func() {
			e := model.NewHintEvent(model.HintUsed{ID: "hint-1", TeamID: "team-y", LevelID: "level-b", HintType: model.HintTime, Penalty: 5})

			convey.Convey("Then the helpers expose its identity", func() {
				convey.So(e.Kind, convey.ShouldEqual, model.KindHintUsed)
				convey.So(e.ID(), convey.ShouldEqual, "hint-1")
				convey.So(e.TeamID(), convey.ShouldEqual, "team-y")
			})
		})

		convey.Convey("When the kind does not match the payload", func() {
			e := model.Event{Kind: model.KindHintUsed, Submission: &model.SubmissionRecorded{ID: "x"}}

			convey.Convey("Then the helpers return empty values", func() {
				convey.So(e.ID(), convey.ShouldEqual, "")
				convey.So(e.TeamID(), convey.ShouldEqual, "")
			})
		})
	})
}

func TestValidateEvent(t *testing.T) {
	convey.Convey("Given the boundary validator", t, func() {
		convey.Convey("When the submission is well formed", func() {
			err := model.ValidateEvent(model.NewSubmissionEvent(validSubmission()))

			convey.Convey("Then it passes", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the submission misses its team", func() {
			s := validSubmission()
			s.TeamID = ""
			err := model.ValidateEvent(model.NewSubmissionEvent(s))

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(err, model.ErrMalformedEvent), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "TeamID:required")
			})
		})

		convey.Convey("When the status is unknown", func() {
			s := validSubmission()
			s.Status = "maybe"
			err := model.ValidateEvent(model.NewSubmissionEvent(s))

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(err, model.ErrMalformedEvent), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a score is negative", func() {
			s := validSubmission()
			s.ScoreAwarded = -1
			err := model.ValidateEvent(model.NewSubmissionEvent(s))

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(err, model.ErrMalformedEvent), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the envelope carries both payloads", func() {
			s := validSubmission()
			e := model.Event{Kind: model.KindSubmissionRecorded, Submission: &s, Hint: &model.HintUsed{}}

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(model.ValidateEvent(e), model.ErrMalformedEvent), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the kind is unknown", func() {
			e := model.Event{Kind: "score_revoked"}

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(model.ValidateEvent(e), model.ErrMalformedEvent), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a hint has an unknown type", func() {
			e := model.NewHintEvent(model.HintUsed{ID: "h", TeamID: "t", LevelID: "l", HintType: "coins"})

			convey.Convey("Then it is malformed", func() {
				convey.So(errors.Is(model.ValidateEvent(e), model.ErrMalformedEvent), convey.ShouldBeTrue)
			})
		})
	})
}

func TestTeamDelta(t *testing.T) {
	convey.Convey("Given a team aggregate", t, func() {
		team := model.Team{ID: "t", Name: "T", Score: 100, LevelsCompleted: 1, TimePenalty: 5}

		convey.Convey("When an additive delta is applied", func() {
			model.TeamDelta{Score: 400, LevelsCompleted: 1, TimePenalty: 3, HintsUsed: 2}.Apply(&team)

			convey.Convey("Then every field accumulates", func() {
				convey.So(team.Score, convey.ShouldEqual, 500)
				convey.So(team.LevelsCompleted, convey.ShouldEqual, 2)
				convey.So(team.TimePenalty, convey.ShouldEqual, 8)
				convey.So(team.HintsUsed, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a delta would drive a field negative", func() {
			model.TeamDelta{Score: -1000}.Apply(&team)

			convey.Convey("Then the field is clamped at zero", func() {
				convey.So(team.Score, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the delta is empty", func() {
			convey.So(model.TeamDelta{}.IsZero(), convey.ShouldBeTrue)
			convey.So(model.TeamDelta{HintsUsed: 1}.IsZero(), convey.ShouldBeFalse)
		})
	})
}

func TestValidateLevel(t *testing.T) {
	convey.Convey("Given level definitions", t, func() {
		convey.Convey("When the hint type is missing", func() {
			err := model.Validate(model.Level{ID: "l", Name: "L", BasePoints: 100})

			convey.Convey("Then it is rejected as invalid input", func() {
				convey.So(errors.Is(err, model.ErrInvalidInput), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the level is complete", func() {
			err := model.Validate(model.Level{ID: "l", Name: "L", BasePoints: 100, HintType: model.HintPoints})

			convey.Convey("Then it passes", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}
