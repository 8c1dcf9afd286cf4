// Package matrix materializes the team x level solve matrix.
//
// The matrix is always recomputed from scratch. That is fine for tens to
// hundreds of teams and levels; past that an incremental update would be
// needed.
package matrix

import (
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/ranking"
)

type cell struct{ team, level string }

// Materialize returns a len(teams) x len(levels) matrix where cell (t, l) is
// 1 iff a correct submission exists for that pair. Rows follow teams and
// columns follow levels. Incorrect submissions are ignored.
func Materialize(teams []model.Team, levels []model.Level, subs []model.SubmissionRecorded) [][]int {
	solved := make(map[cell]struct{}, len(subs))
	for _, s := range subs {
		if s.Correct() {
			solved[cell{s.TeamID, s.LevelID}] = struct{}{}
		}
	}

	m := make([][]int, len(teams))
	for i, t := range teams {
		row := make([]int, len(levels))
		for j, l := range levels {
			if _, ok := solved[cell{t.ID, l.ID}]; ok {
				row[j] = 1
			}
		}
		m[i] = row
	}
	return m
}

// Stats summarizes a group.
type Stats struct {
	TotalTeams     int     `json:"total_teams"`
	TotalSolves    int     `json:"total_solves"`
	AverageScore   float64 `json:"average_score"`
	TopTeamID      string  `json:"top_team_id,omitempty"`
	SolvesPerLevel []int   `json:"solves_per_level"`
}

// GroupOverview is the read model of one group.
type GroupOverview struct {
	GroupID string        `json:"group_id"`
	Teams   []model.Team  `json:"teams"`
	Levels  []model.Level `json:"levels"`
	Matrix  [][]int       `json:"matrix"`
	Stats   Stats         `json:"stats"`
}

// Overview filters teams to groupID and materializes their matrix and stats.
func Overview(groupID string, teams []model.Team, levels []model.Level, subs []model.SubmissionRecorded) GroupOverview {
	members := make([]model.Team, 0)
	for _, t := range teams {
		if t.GroupID == groupID {
			members = append(members, t)
		}
	}

	m := Materialize(members, levels, subs)
	stats := Stats{TotalTeams: len(members), SolvesPerLevel: make([]int, len(levels))}
	var total int64
	for i, row := range m {
		total += members[i].Score
		for j, v := range row {
			stats.TotalSolves += v
			stats.SolvesPerLevel[j] += v
		}
	}
	if len(members) > 0 {
		stats.AverageScore = float64(total) / float64(len(members))
		stats.TopTeamID = ranking.Project(members, ranking.LastCorrect(subs))[0].TeamID
	}

	return GroupOverview{GroupID: groupID, Teams: members, Levels: levels, Matrix: m, Stats: stats}
}
