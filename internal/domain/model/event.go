// Package model contains domain models passed between layers.
package model

// SubmissionStatus is the verdict of a flag submission.
type SubmissionStatus string

// Submission verdicts.
const (
	StatusCorrect   SubmissionStatus = "correct"
	StatusIncorrect SubmissionStatus = "incorrect"
)

// HintType selects how a level charges for hints.
type HintType string

// Hint charging modes.
const (
	HintPoints HintType = "points"
	HintTime   HintType = "time"
)

// EventKind tags the variant carried by an Event envelope.
type EventKind string

// Event log variants.
const (
	KindSubmissionRecorded EventKind = "submission_recorded"
	KindHintUsed           EventKind = "hint_used"
)

// SubmissionRecorded is appended to the event log for every flag attempt.
// It is the only source that increments a team's score.
type SubmissionRecorded struct {
	ID           string           `json:"id" validate:"required,max=128"`
	TeamID       string           `json:"team_id" validate:"required,max=128"`
	LevelID      string           `json:"level_id" validate:"required,max=128"`
	Status       SubmissionStatus `json:"status" validate:"required,oneof=correct incorrect"`
	ScoreAwarded int64            `json:"score_awarded" validate:"gte=0"`
	TimePenalty  int64            `json:"time_penalty" validate:"gte=0"` // minutes
	TimeTaken    int64            `json:"time_taken" validate:"gte=0"`   // seconds
	HintsUsed    int              `json:"hints_used" validate:"gte=0"`
	SubmittedAt  int64            `json:"submitted_at" validate:"gt=0"` // epoch ms
}

// Correct reports whether the submission solved its level.
func (s SubmissionRecorded) Correct() bool { return s.Status == StatusCorrect }

// HintUsed is appended when a team unlocks a hint. For time-type hints it is
// the only source of the time penalty.
type HintUsed struct {
	ID       string   `json:"id" validate:"required,max=128"`
	TeamID   string   `json:"team_id" validate:"required,max=128"`
	LevelID  string   `json:"level_id" validate:"required,max=128"`
	HintType HintType `json:"hint_type" validate:"required,oneof=points time"`
	Penalty  int64    `json:"penalty" validate:"gte=0"`
	UsedAt   int64    `json:"used_at" validate:"gte=0"` // epoch ms
}

// Event is the tagged envelope that flows from ingestion to the workers.
// Exactly one of Submission or Hint is set, matching Kind.
type Event struct {
	Kind       EventKind           `json:"kind" validate:"required,oneof=submission_recorded hint_used"`
	Submission *SubmissionRecorded `json:"submission,omitempty"`
	Hint       *HintUsed           `json:"hint,omitempty"`
}

// NewSubmissionEvent wraps a submission in an envelope.
func NewSubmissionEvent(s SubmissionRecorded) Event {
	return Event{Kind: KindSubmissionRecorded, Submission: &s}
}

// NewHintEvent wraps a hint usage in an envelope.
func NewHintEvent(h HintUsed) Event {
	return Event{Kind: KindHintUsed, Hint: &h}
}

// ID returns the idempotency key of the wrapped event.
func (e Event) ID() string {
	switch {
	case e.Kind == KindSubmissionRecorded && e.Submission != nil:
		return e.Submission.ID
	case e.Kind == KindHintUsed && e.Hint != nil:
		return e.Hint.ID
	}
	return ""
}

// TeamID returns the team the wrapped event belongs to.
func (e Event) TeamID() string {
	switch {
	case e.Kind == KindSubmissionRecorded && e.Submission != nil:
		return e.Submission.TeamID
	case e.Kind == KindHintUsed && e.Hint != nil:
		return e.Hint.TeamID
	}
	return ""
}
