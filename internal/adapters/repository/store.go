// Package repository holds the storage ports of the scoring engine and their
// in-memory, SQLite and Redis implementations.
package repository

import (
	"context"

	"github.com/okian/flagrace/internal/domain/model"
)

// TeamStore keeps team identities and their aggregates.
type TeamStore interface {
	UpsertTeam(ctx context.Context, t model.Team) error
	GetTeam(ctx context.Context, id string) (model.Team, error)
	// ListTeams returns every team ordered by id.
	ListTeams(ctx context.Context) ([]model.Team, error)

	// ApplyTeamDelta applies delta to the team unless eventID was already
	// processed. The check and the update are one atomic step. Returns
	// applied=false for a processed id and ErrNotFound for an unknown team.
	ApplyTeamDelta(ctx context.Context, eventID, teamID string, delta model.TeamDelta) (applied bool, err error)

	// ZeroTeams sets every aggregate field to zero and returns the team count.
	ZeroTeams(ctx context.Context) (int, error)
	// ClearProcessed forgets every processed event id.
	ClearProcessed(ctx context.Context) error
}

// LevelStore keeps level definitions.
type LevelStore interface {
	UpsertLevel(ctx context.Context, l model.Level) error
	GetLevel(ctx context.Context, id string) (model.Level, error)
	// ListLevels returns every level ordered by Order then id.
	ListLevels(ctx context.Context) ([]model.Level, error)
}

// SubmissionFilter narrows submission queries. Zero values match everything.
type SubmissionFilter struct {
	ID          string
	TeamID      string
	LevelID     string
	Status      model.SubmissionStatus
	NewestFirst bool
	Limit       int // 0 means unlimited
	Offset      int
}

// HintFilter narrows hint queries.
type HintFilter struct {
	ID      string
	TeamID  string
	LevelID string
}

// EventLog is the append-only record of submissions and hint usages.
type EventLog interface {
	// AppendSubmission returns ErrDuplicate when the id already exists.
	AppendSubmission(ctx context.Context, s model.SubmissionRecorded) error
	AppendHint(ctx context.Context, h model.HintUsed) error

	// ListSubmissions orders by submission time then id.
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]model.SubmissionRecorded, error)
	CountSubmissions(ctx context.Context, f SubmissionFilter) (int, error)
	// ListHints orders by usage time then id.
	ListHints(ctx context.Context, f HintFilter) ([]model.HintUsed, error)

	// DeleteSubmissions removes up to batch entries and returns how many it removed.
	DeleteSubmissions(ctx context.Context, batch int) (int, error)
	// DeleteHints removes up to batch entries and returns how many it removed.
	DeleteHints(ctx context.Context, batch int) (int, error)
}

// EventConfigStore keeps the competition settings written by initialization.
type EventConfigStore interface {
	SaveEventConfig(ctx context.Context, cfg model.EventConfig) error
	// GetEventConfig returns ErrNotFound before initialization.
	GetEventConfig(ctx context.Context) (model.EventConfig, error)
}

// ProjectionStore keeps the ranked leaderboard projection.
type ProjectionStore interface {
	// ReplaceProjection swaps the whole projection for entries.
	ReplaceProjection(ctx context.Context, entries []model.LeaderboardEntry) error
	// ReadProjection returns the entries ordered by rank. Empty means not populated.
	ReadProjection(ctx context.Context) ([]model.LeaderboardEntry, error)
	ClearProjection(ctx context.Context) error
}

// Repository is the full set of stores a backend provides.
type Repository interface {
	TeamStore
	LevelStore
	EventLog
	EventConfigStore
	ProjectionStore
	Close() error
}
