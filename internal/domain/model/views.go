package model

import "time"

// LeaderboardEntry is one row of the ranked projection. Rank is derived from
// a full sort and is never authoritative on its own.
type LeaderboardEntry struct {
	TeamID           string `json:"team_id"`
	TeamName         string `json:"team_name"`
	GroupID          string `json:"group_id"`
	Score            int64  `json:"score"`
	LevelsCompleted  int    `json:"levels_completed"`
	TotalTimePenalty int64  `json:"total_time_penalty"`
	LastSubmissionAt int64  `json:"last_submission_at"` // epoch ms, 0 if none
	Rank             int    `json:"rank"`
}

// Severity grades an anomaly finding.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyFinding is an advisory suspicious-pattern report. It is never persisted.
type AnomalyFinding struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	TeamID      string   `json:"team_id,omitempty"`
	TeamName    string   `json:"team_name,omitempty"`
	LevelID     string   `json:"level_id,omitempty"`
}

// Snapshot is a point-in-time export of all state. Each part is read
// independently, so parts may reflect slightly different instants.
type Snapshot struct {
	ExportedAt  time.Time            `json:"exported_at"`
	Event       *EventConfig         `json:"event,omitempty"`
	Teams       []Team               `json:"teams"`
	Levels      []Level              `json:"levels"`
	Submissions []SubmissionRecorded `json:"submissions"`
	Hints       []HintUsed           `json:"hints"`
	Leaderboard []LeaderboardEntry   `json:"leaderboard"`
}
