// Package scoring turns submission and hint events into team aggregate
// updates and computes the points a submission is worth.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// Outcome reports what applying an event did.
type Outcome string

// Outcomes.
const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
)

// Skip reasons used in logs and metrics.
const (
	reasonMalformed        = "malformed"
	reasonReferenceMissing = "reference_missing"
)

// Store is what the aggregator needs from storage. ApplyTeamDelta must
// ignore an event id it has already applied.
type Store interface {
	GetTeam(ctx context.Context, id string) (model.Team, error)
	GetLevel(ctx context.Context, id string) (model.Level, error)
	ApplyTeamDelta(ctx context.Context, eventID, teamID string, delta model.TeamDelta) (bool, error)
}

// Aggregator owns the mutable per-team aggregate. Handlers for distinct
// events may run concurrently; redelivering an event is a no-op.
type Aggregator struct {
	store  Store
	logger logger.Logger
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("aggregator")
	}
	return a
}

// Apply dispatches an envelope to the matching handler.
func (a *Aggregator) Apply(ctx context.Context, e model.Event) (Outcome, error) {
	switch {
	case e.Kind == model.KindSubmissionRecorded && e.Submission != nil:
		return a.ApplySubmission(ctx, *e.Submission)
	case e.Kind == model.KindHintUsed && e.Hint != nil:
		return a.ApplyHint(ctx, *e.Hint)
	}
	return a.skip(ctx, reasonMalformed, e.ID(), model.ErrMalformedEvent), nil
}

// ApplySubmission adds a correct submission's award and time penalty to its
// team and counts the level as completed. Incorrect submissions leave the
// aggregate unchanged but are still marked processed.
func (a *Aggregator) ApplySubmission(ctx context.Context, s model.SubmissionRecorded) (Outcome, error) {
	if err := model.ValidateEvent(model.NewSubmissionEvent(s)); err != nil {
		return a.skip(ctx, reasonMalformed, s.ID, err), nil
	}
	if _, err := a.checkRefs(ctx, s.TeamID, s.LevelID); err != nil {
		return a.fail(ctx, s.ID, err)
	}

	delta := SubmissionDelta(s)
	out, err := a.apply(ctx, string(model.KindSubmissionRecorded), s.ID, s.TeamID, delta)
	if out == OutcomeApplied {
		metrics.RecordPointsAwarded(delta.Score)
		metrics.RecordPenaltyMinutes(delta.TimePenalty)
	}
	return out, err
}

// ApplyHint counts the hint and, for time-type hints, adds its penalty to the
// team immediately. Points-type hints only reduce the later award. A hint
// whose type differs from its level's is malformed.
func (a *Aggregator) ApplyHint(ctx context.Context, h model.HintUsed) (Outcome, error) {
	if err := model.ValidateEvent(model.NewHintEvent(h)); err != nil {
		return a.skip(ctx, reasonMalformed, h.ID, err), nil
	}
	level, err := a.checkRefs(ctx, h.TeamID, h.LevelID)
	if err != nil {
		return a.fail(ctx, h.ID, err)
	}
	if h.HintType != level.HintType {
		err := fmt.Errorf("%w: hint type %s on %s level %s", model.ErrMalformedEvent, h.HintType, level.HintType, level.ID)
		return a.skip(ctx, reasonMalformed, h.ID, err), nil
	}

	delta := HintDelta(h)
	out, err := a.apply(ctx, string(model.KindHintUsed), h.ID, h.TeamID, delta)
	if out == OutcomeApplied {
		metrics.RecordPenaltyMinutes(delta.TimePenalty)
	}
	return out, err
}

// checkRefs verifies the team and level exist and returns the level.
func (a *Aggregator) checkRefs(ctx context.Context, teamID, levelID string) (model.Level, error) {
	if _, err := a.store.GetTeam(ctx, teamID); err != nil {
		return model.Level{}, err
	}
	return a.store.GetLevel(ctx, levelID)
}

// fail skips events whose references are missing and surfaces everything
// else as a retryable candidate.
func (a *Aggregator) fail(ctx context.Context, eventID string, err error) (Outcome, error) {
	if errors.Is(err, model.ErrNotFound) {
		return a.skip(ctx, reasonReferenceMissing, eventID, err), nil
	}
	metrics.RecordAggregateError()
	return "", fmt.Errorf("apply %s: %w", eventID, err)
}

func (a *Aggregator) apply(ctx context.Context, kind, eventID, teamID string, delta model.TeamDelta) (Outcome, error) {
	start := time.Now()
	applied, err := a.store.ApplyTeamDelta(ctx, eventID, teamID, delta)
	metrics.RecordApplyLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		return a.fail(ctx, eventID, err)
	}
	if !applied {
		metrics.RecordEventDuplicate("aggregate")
		a.logger.Debug(ctx, "duplicate event ignored", logger.String("event_id", eventID))
		return OutcomeDuplicate, nil
	}

	metrics.RecordEventApplied(kind)
	a.logger.Debug(ctx, "event applied",
		logger.String("event_id", eventID),
		logger.String("team_id", teamID),
		logger.Int64("score_delta", delta.Score),
		logger.Int64("penalty_delta", delta.TimePenalty),
	)
	return OutcomeApplied, nil
}

func (a *Aggregator) skip(ctx context.Context, reason, eventID string, cause error) Outcome {
	metrics.RecordEventSkipped(reason)
	a.logger.Warn(ctx, "event skipped",
		logger.String("reason", reason),
		logger.String("event_id", eventID),
		logger.Error(cause),
	)
	return OutcomeSkipped
}

// SubmissionDelta is the aggregate change of a submission.
func SubmissionDelta(s model.SubmissionRecorded) model.TeamDelta {
	if !s.Correct() {
		return model.TeamDelta{}
	}
	return model.TeamDelta{Score: s.ScoreAwarded, LevelsCompleted: 1, TimePenalty: s.TimePenalty}
}

// HintDelta is the aggregate change of a hint usage.
func HintDelta(h model.HintUsed) model.TeamDelta {
	d := model.TeamDelta{HintsUsed: 1}
	if h.HintType == model.HintTime {
		d.TimePenalty = h.Penalty
	}
	return d
}

// Award is the score of a correct submission on level after hintsUsed hints.
// Points-hint levels lose pointDeduction per hint, never below zero.
// Time-hint levels always award the base points.
func Award(level model.Level, hintsUsed int) int64 {
	if level.HintType != model.HintPoints {
		return level.BasePoints
	}
	return max(0, level.BasePoints-level.PointDeduction*int64(hintsUsed))
}

// HintPenalty is the penalty recorded on a HintUsed event for level: minutes
// for time-hint levels, points for points-hint levels.
func HintPenalty(level model.Level) int64 {
	if level.HintType == model.HintTime {
		return level.TimePenaltyMinutes
	}
	return level.PointDeduction
}
