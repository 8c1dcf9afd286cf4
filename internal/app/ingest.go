package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/flagrace/internal/adapters/mq/queue"
	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/scoring"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// IngestResult reports what happened to an ingested event.
type IngestResult string

// Ingest results.
const (
	Accepted  IngestResult = "accepted"
	Duplicate IngestResult = "duplicate"
)

// RecordEvent validates e, appends it to the event log and queues it for the
// aggregator. A redelivered id is reported as Duplicate. When the queue is
// full the id is forgotten again so the client can resend it. Events are
// refused while a reset runs.
func (s *Service) RecordEvent(ctx context.Context, e model.Event) (IngestResult, error) {
	if err := s.running(); err != nil {
		return "", err
	}
	if err := model.ValidateEvent(e); err != nil {
		metrics.RecordEventRejected("malformed")
		return "", err
	}
	release, err := s.admit()
	if err != nil {
		return "", err
	}
	defer release()

	id := e.ID()
	if s.deduper.SeenAndRecord(ctx, id) {
		metrics.RecordEventDuplicate("ingest")
		s.logger.Debug(ctx, "duplicate event detected, skipping", logger.String("eventID", id))
		return Duplicate, nil
	}

	if err := s.appendLog(ctx, e); err != nil {
		s.deduper.Unrecord(ctx, id)
		return "", err
	}

	if err := s.eventQueue.TryEnqueue(ctx, queue.Item{Event: e}); err != nil {
		s.deduper.Unrecord(ctx, id)
		metrics.RecordEventRejected("backpressure")
		return "", fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
	metrics.RecordEventIngested(string(e.Kind))
	return Accepted, nil
}

// appendLog writes e to the event log. An id already in the log is not an
// error: it was logged by an earlier attempt whose enqueue failed, and the
// aggregator ignores it if it was applied after all.
func (s *Service) appendLog(ctx context.Context, e model.Event) error {
	var err error
	switch e.Kind {
	case model.KindSubmissionRecorded:
		err = s.store.AppendSubmission(ctx, *e.Submission)
	case model.KindHintUsed:
		err = s.store.AppendHint(ctx, *e.Hint)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		metrics.RecordEventDuplicate("log")
		return nil
	}
	if err != nil {
		return fmt.Errorf("append %s %s: %w", e.Kind, e.ID(), err)
	}
	return nil
}

// SubmitRequest is a flag attempt.
type SubmitRequest struct {
	ID        string `json:"id" validate:"omitempty,max=128"`
	TeamID    string `json:"team_id" validate:"required,max=128"`
	LevelID   string `json:"level_id" validate:"required,max=128"`
	Flag      string `json:"flag" validate:"required,max=1024"`
	TimeTaken int64  `json:"time_taken" validate:"gte=0"` // seconds
}

// SubmitResult is the verdict of a flag attempt.
type SubmitResult struct {
	Correct    bool                     `json:"correct"`
	Result     IngestResult             `json:"result"`
	Submission model.SubmissionRecorded `json:"submission"`
}

// SubmitFlag checks a flag and records the attempt. A correct flag is worth
// the level's base points less any hint deductions. A level a team already
// solved cannot be submitted again.
func (s *Service) SubmitFlag(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := s.running(); err != nil {
		return SubmitResult{}, err
	}
	if err := model.Validate(req); err != nil {
		return SubmitResult{}, err
	}

	release, err := s.admit()
	if err != nil {
		return SubmitResult{}, err
	}
	release()

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if prev, ok, err := s.resentSubmission(ctx, req); ok || err != nil {
		return prev, err
	}
	level, err := s.playable(ctx, req.TeamID, req.LevelID)
	if err != nil {
		return SubmitResult{}, err
	}
	hints, err := s.store.ListHints(ctx, repository.HintFilter{TeamID: req.TeamID, LevelID: req.LevelID})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("list hints: %w", err)
	}

	sub := model.SubmissionRecorded{
		ID:          req.ID,
		TeamID:      req.TeamID,
		LevelID:     req.LevelID,
		Status:      model.StatusIncorrect,
		TimeTaken:   req.TimeTaken,
		HintsUsed:   len(hints),
		SubmittedAt: s.now().UnixMilli(),
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	correct := subtle.ConstantTimeCompare([]byte(req.Flag), []byte(level.Flag)) == 1 && level.Flag != ""
	if correct {
		sub.Status = model.StatusCorrect
		sub.ScoreAwarded = scoring.Award(level, len(hints))
	}

	res, err := s.RecordEvent(ctx, model.NewSubmissionEvent(sub))
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Correct: correct, Result: res, Submission: sub}, nil
}

// resentSubmission reports the logged verdict when req carries an id that is
// already in the event log. An id reused for another team or level is
// rejected.
func (s *Service) resentSubmission(ctx context.Context, req SubmitRequest) (SubmitResult, bool, error) {
	if req.ID == "" {
		return SubmitResult{}, false, nil
	}
	logged, err := s.store.ListSubmissions(ctx, repository.SubmissionFilter{ID: req.ID})
	if err != nil {
		return SubmitResult{}, false, fmt.Errorf("look up submission %s: %w", req.ID, err)
	}
	if len(logged) == 0 {
		return SubmitResult{}, false, nil
	}
	prev := logged[0]
	if prev.TeamID != req.TeamID || prev.LevelID != req.LevelID {
		return SubmitResult{}, true, fmt.Errorf("submission id %s already used: %w", req.ID, model.ErrInvalidInput)
	}
	metrics.RecordEventDuplicate("ingest")
	return SubmitResult{Correct: prev.Correct(), Result: Duplicate, Submission: prev}, true, nil
}

// playable checks that team and level exist, the level is active and the
// team has not solved it yet.
func (s *Service) playable(ctx context.Context, teamID, levelID string) (model.Level, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return model.Level{}, err
	}
	level, err := s.store.GetLevel(ctx, levelID)
	if err != nil {
		return model.Level{}, err
	}
	if !level.IsActive {
		return model.Level{}, fmt.Errorf("level %s: %w", levelID, ErrLevelInactive)
	}
	solved, err := s.store.CountSubmissions(ctx, repository.SubmissionFilter{TeamID: teamID, LevelID: levelID, Status: model.StatusCorrect})
	if err != nil {
		return model.Level{}, fmt.Errorf("count solves: %w", err)
	}
	if solved > 0 {
		return model.Level{}, fmt.Errorf("team %s level %s: %w", teamID, levelID, ErrAlreadySolved)
	}
	return level, nil
}

// HintRequest asks for the next hint of a level.
type HintRequest struct {
	ID      string `json:"id" validate:"omitempty,max=128"`
	TeamID  string `json:"team_id" validate:"required,max=128"`
	LevelID string `json:"level_id" validate:"required,max=128"`
}

// HintResult carries the unlocked hint.
type HintResult struct {
	Text   string         `json:"text,omitempty"`
	Number int            `json:"number"`
	Result IngestResult   `json:"result"`
	Hint   model.HintUsed `json:"hint"`
}

// UseHint unlocks the next hint of a level and records its penalty.
func (s *Service) UseHint(ctx context.Context, req HintRequest) (HintResult, error) {
	if err := s.running(); err != nil {
		return HintResult{}, err
	}
	if err := model.Validate(req); err != nil {
		return HintResult{}, err
	}

	release, err := s.admit()
	if err != nil {
		return HintResult{}, err
	}
	release()

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if prev, ok, err := s.resentHint(ctx, req); ok || err != nil {
		return prev, err
	}
	level, err := s.playable(ctx, req.TeamID, req.LevelID)
	if err != nil {
		return HintResult{}, err
	}
	used, err := s.store.ListHints(ctx, repository.HintFilter{TeamID: req.TeamID, LevelID: req.LevelID})
	if err != nil {
		return HintResult{}, fmt.Errorf("list hints: %w", err)
	}
	if len(level.Hints) > 0 && len(used) >= len(level.Hints) {
		return HintResult{}, fmt.Errorf("level %s: %w", req.LevelID, ErrNoHintsLeft)
	}

	h := model.HintUsed{
		ID:       req.ID,
		TeamID:   req.TeamID,
		LevelID:  req.LevelID,
		HintType: level.HintType,
		Penalty:  scoring.HintPenalty(level),
		UsedAt:   s.now().UnixMilli(),
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	res, err := s.RecordEvent(ctx, model.NewHintEvent(h))
	if err != nil {
		return HintResult{}, err
	}

	out := HintResult{Number: len(used) + 1, Result: res, Hint: h}
	if len(used) < len(level.Hints) {
		out.Text = level.Hints[len(used)]
	}
	return out, nil
}

// resentHint answers a hint request whose id is already logged with the hint
// it unlocked the first time.
func (s *Service) resentHint(ctx context.Context, req HintRequest) (HintResult, bool, error) {
	if req.ID == "" {
		return HintResult{}, false, nil
	}
	logged, err := s.store.ListHints(ctx, repository.HintFilter{ID: req.ID})
	if err != nil {
		return HintResult{}, false, fmt.Errorf("look up hint %s: %w", req.ID, err)
	}
	if len(logged) == 0 {
		return HintResult{}, false, nil
	}
	prev := logged[0]
	if prev.TeamID != req.TeamID || prev.LevelID != req.LevelID {
		return HintResult{}, true, fmt.Errorf("hint id %s already used: %w", req.ID, model.ErrInvalidInput)
	}

	used, err := s.store.ListHints(ctx, repository.HintFilter{TeamID: req.TeamID, LevelID: req.LevelID})
	if err != nil {
		return HintResult{}, true, fmt.Errorf("list hints: %w", err)
	}
	out := HintResult{Result: Duplicate, Hint: prev}
	for i, h := range used {
		if h.ID == prev.ID {
			out.Number = i + 1
			break
		}
	}
	if level, err := s.store.GetLevel(ctx, req.LevelID); err == nil && out.Number > 0 && out.Number <= len(level.Hints) {
		out.Text = level.Hints[out.Number-1]
	}
	metrics.RecordEventDuplicate("ingest")
	return out, true, nil
}
