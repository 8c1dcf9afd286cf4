// Package anomaly flags suspicious submission patterns in a recent window of
// the event log. Findings are advisory and never acted upon automatically.
package anomaly

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/metrics"
)

// Finding types.
const (
	TypeFastSolve         = "fast_solve"
	TypeExcessiveAttempts = "excessive_attempts"
	TypeSimultaneousSolve = "simultaneous_solve"
)

// Thresholds configures the rules. A rule fires when a count is strictly
// greater than its threshold.
type Thresholds struct {
	FastSolveCount        int           // correct solves under FastSolveTime per team
	FastSolveTime         time.Duration // compared against timeTaken
	MaxIncorrectPerLevel  int           // incorrect attempts per (team, level)
	SimultaneousMinSolves int           // correct solves per bucket
	SimultaneousMinTeams  int           // distinct teams per bucket
	SimultaneousBucket    time.Duration
	WindowSize            int // most recent events to inspect
}

// DefaultThresholds returns the stock rule parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FastSolveCount:        2,
		FastSolveTime:         30 * time.Second,
		MaxIncorrectPerLevel:  10,
		SimultaneousMinSolves: 3,
		SimultaneousMinTeams:  2,
		SimultaneousBucket:    time.Minute,
		WindowSize:            200,
	}
}

// Detector applies the rules. It holds no state between calls.
type Detector struct {
	t Thresholds
}

// NewDetector creates a detector; zero fields fall back to the defaults.
func NewDetector(t Thresholds) *Detector {
	d := DefaultThresholds()
	d.FastSolveCount = cmp.Or(t.FastSolveCount, d.FastSolveCount)
	d.FastSolveTime = cmp.Or(t.FastSolveTime, d.FastSolveTime)
	d.MaxIncorrectPerLevel = cmp.Or(t.MaxIncorrectPerLevel, d.MaxIncorrectPerLevel)
	d.SimultaneousMinSolves = cmp.Or(t.SimultaneousMinSolves, d.SimultaneousMinSolves)
	d.SimultaneousMinTeams = cmp.Or(t.SimultaneousMinTeams, d.SimultaneousMinTeams)
	d.SimultaneousBucket = cmp.Or(t.SimultaneousBucket, d.SimultaneousBucket)
	d.WindowSize = cmp.Or(t.WindowSize, d.WindowSize)
	return &Detector{t: d}
}

// Thresholds returns the effective parameters.
func (d *Detector) Thresholds() Thresholds { return d.t }

// Detect runs every rule over window. Output order is deterministic: fast
// solves by team, excessive attempts by team then level, simultaneous solves
// by bucket.
func (d *Detector) Detect(window []model.SubmissionRecorded, teams []model.TeamRef) []model.AnomalyFinding {
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}

	findings := d.fastSolves(window, names)
	findings = append(findings, d.excessiveAttempts(window, names)...)
	findings = append(findings, d.simultaneousSolves(window)...)
	for _, f := range findings {
		metrics.RecordAnomalyFinding(f.Type, string(f.Severity))
	}
	return findings
}

func (d *Detector) fastSolves(window []model.SubmissionRecorded, names map[string]string) []model.AnomalyFinding {
	limit := int64(d.t.FastSolveTime / time.Second)
	fast := map[string]int{}
	for _, s := range window {
		if s.Correct() && s.TimeTaken < limit {
			fast[s.TeamID]++
		}
	}

	var out []model.AnomalyFinding
	for _, team := range sortedKeys(fast) {
		n := fast[team]
		if n <= d.t.FastSolveCount {
			continue
		}
		out = append(out, model.AnomalyFinding{
			Type:        TypeFastSolve,
			Description: fmt.Sprintf("%d correct solves in under %s", n, d.t.FastSolveTime),
			Severity:    model.SeverityHigh,
			TeamID:      team,
			TeamName:    names[team],
		})
	}
	return out
}

func (d *Detector) excessiveAttempts(window []model.SubmissionRecorded, names map[string]string) []model.AnomalyFinding {
	type pair struct{ team, level string }
	wrong := map[pair]int{}
	for _, s := range window {
		if s.Status == model.StatusIncorrect {
			wrong[pair{s.TeamID, s.LevelID}]++
		}
	}

	pairs := make([]pair, 0, len(wrong))
	for p, n := range wrong {
		if n > d.t.MaxIncorrectPerLevel {
			pairs = append(pairs, p)
		}
	}
	slices.SortFunc(pairs, func(a, b pair) int {
		return cmp.Or(cmp.Compare(a.team, b.team), cmp.Compare(a.level, b.level))
	})

	out := make([]model.AnomalyFinding, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.AnomalyFinding{
			Type:        TypeExcessiveAttempts,
			Description: fmt.Sprintf("%d incorrect attempts on level %s", wrong[p], p.level),
			Severity:    model.SeverityMedium,
			TeamID:      p.team,
			TeamName:    names[p.team],
			LevelID:     p.level,
		})
	}
	return out
}

func (d *Detector) simultaneousSolves(window []model.SubmissionRecorded) []model.AnomalyFinding {
	bucketMS := d.t.SimultaneousBucket.Milliseconds()
	if bucketMS <= 0 {
		return nil
	}
	type bucket struct {
		solves int
		teams  map[string]struct{}
	}
	buckets := map[int64]*bucket{}
	for _, s := range window {
		if !s.Correct() {
			continue
		}
		key := s.SubmittedAt / bucketMS
		b := buckets[key]
		if b == nil {
			b = &bucket{teams: map[string]struct{}{}}
			buckets[key] = b
		}
		b.solves++
		b.teams[s.TeamID] = struct{}{}
	}

	var out []model.AnomalyFinding
	for _, key := range sortedKeys(buckets) {
		b := buckets[key]
		if b.solves <= d.t.SimultaneousMinSolves || len(b.teams) <= d.t.SimultaneousMinTeams {
			continue
		}
		at := time.UnixMilli(key * bucketMS).UTC()
		out = append(out, model.AnomalyFinding{
			Type:        TypeSimultaneousSolve,
			Description: fmt.Sprintf("%d correct solves by %d teams within %s starting %s", b.solves, len(b.teams), d.t.SimultaneousBucket, at.Format(time.RFC3339)),
			Severity:    model.SeverityMedium,
		})
	}
	return out
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
