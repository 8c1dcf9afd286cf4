// Package ranking projects team aggregates into the ranked leaderboard.
package ranking

import (
	"cmp"
	"slices"

	"github.com/okian/flagrace/internal/domain/model"
)

// Compare orders entries best first: score desc, levels completed desc,
// time penalty asc, last submission asc (never submitted last), team id asc.
func Compare(a, b model.LeaderboardEntry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.LevelsCompleted, a.LevelsCompleted); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TotalTimePenalty, b.TotalTimePenalty); c != 0 {
		return c
	}
	if c := compareLast(a.LastSubmissionAt, b.LastSubmissionAt); c != 0 {
		return c
	}
	return cmp.Compare(a.TeamID, b.TeamID)
}

// Less reports whether a ranks before b.
func Less(a, b model.LeaderboardEntry) bool { return Compare(a, b) < 0 }

func compareLast(a, b int64) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	}
	return cmp.Compare(a, b)
}

// Project builds one entry per team, sorts them and assigns ranks 1..n.
// lastSubmission maps team id to the epoch ms of its latest correct
// submission; missing teams default to 0.
func Project(teams []model.Team, lastSubmission map[string]int64) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(teams))
	for _, t := range teams {
		entries = append(entries, model.LeaderboardEntry{
			TeamID:           t.ID,
			TeamName:         t.Name,
			GroupID:          t.GroupID,
			Score:            max(0, t.Score),
			LevelsCompleted:  max(0, t.LevelsCompleted),
			TotalTimePenalty: max(0, t.TimePenalty),
			LastSubmissionAt: lastSubmission[t.ID],
		})
	}
	return Rank(entries)
}

// Rank sorts entries in place and assigns distinct sequential ranks.
func Rank(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	slices.SortFunc(entries, Compare)
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// RankOf finds teamID by linear scan of a ranked list.
func RankOf(entries []model.LeaderboardEntry, teamID string) (model.LeaderboardEntry, bool) {
	for _, e := range entries {
		if e.TeamID == teamID {
			return e, true
		}
	}
	return model.LeaderboardEntry{}, false
}

// LastCorrect returns the latest correct submission time per team.
func LastCorrect(subs []model.SubmissionRecorded) map[string]int64 {
	last := make(map[string]int64)
	for _, s := range subs {
		if s.Correct() && s.SubmittedAt > last[s.TeamID] {
			last[s.TeamID] = s.SubmittedAt
		}
	}
	return last
}
