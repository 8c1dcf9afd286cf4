package model

import "time"

// Team is the per-team aggregate. The aggregate fields are owned by the
// score aggregator; everything else only reads them.
type Team struct {
	ID              string `json:"id" yaml:"id" validate:"required,max=128"`
	Name            string `json:"name" yaml:"name" validate:"required,max=256"`
	GroupID         string `json:"group_id" yaml:"group_id" validate:"max=128"`
	Score           int64  `json:"score" yaml:"-"`
	LevelsCompleted int    `json:"levels_completed" yaml:"-"`
	TimePenalty     int64  `json:"time_penalty" yaml:"-"`
	HintsUsed       int    `json:"hints_used" yaml:"-"`
}

// Ref returns the identity part of the team.
func (t Team) Ref() TeamRef { return TeamRef{ID: t.ID, Name: t.Name} }

// TeamRef names a team without its aggregate.
type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TeamDelta is an additive change to a team aggregate.
type TeamDelta struct {
	Score           int64
	LevelsCompleted int
	TimePenalty     int64
	HintsUsed       int
}

// IsZero reports whether applying the delta changes nothing.
func (d TeamDelta) IsZero() bool { return d == TeamDelta{} }

// Apply adds the delta to the team, clamping every field at zero.
func (d TeamDelta) Apply(t *Team) {
	t.Score = max(0, t.Score+d.Score)
	t.LevelsCompleted = max(0, t.LevelsCompleted+d.LevelsCompleted)
	t.TimePenalty = max(0, t.TimePenalty+d.TimePenalty)
	t.HintsUsed = max(0, t.HintsUsed+d.HintsUsed)
}

// Level is a challenge definition. The core consumes it read-only.
type Level struct {
	ID                 string   `json:"id" yaml:"id" validate:"required,max=128"`
	Name               string   `json:"name" yaml:"name" validate:"required,max=256"`
	Order              int      `json:"order" yaml:"order"`
	BasePoints         int64    `json:"base_points" yaml:"base_points" validate:"gte=0"`
	Difficulty         string   `json:"difficulty" yaml:"difficulty"`
	HintType           HintType `json:"hint_type" yaml:"hint_type" validate:"required,oneof=points time"`
	PointDeduction     int64    `json:"point_deduction" yaml:"point_deduction" validate:"gte=0"`
	TimePenaltyMinutes int64    `json:"time_penalty_minutes" yaml:"time_penalty_minutes" validate:"gte=0"`
	Hints              []string `json:"hints,omitempty" yaml:"hints"`
	Flag               string   `json:"-" yaml:"flag"`
	IsActive           bool     `json:"is_active" yaml:"is_active"`
}

// EventConfig describes the competition as initialized by an administrator.
type EventConfig struct {
	Name          string    `json:"name" validate:"required,max=256"`
	TotalTeams    int       `json:"total_teams" validate:"gt=0"`
	TotalGroups   int       `json:"total_groups" validate:"gt=0"`
	TotalLevels   int       `json:"total_levels" validate:"gt=0"`
	TeamsPerGroup int       `json:"teams_per_group"`
	CreatedAt     time.Time `json:"created_at"`
}

// Announcement is a broadcast message for all teams.
type Announcement struct {
	ID        string    `json:"id"`
	Message   string    `json:"message" validate:"required,max=2000"`
	CreatedAt time.Time `json:"created_at"`
}
