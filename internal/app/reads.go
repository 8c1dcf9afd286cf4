package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/domain/matrix"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/internal/domain/ranking"
	"github.com/okian/flagrace/pkg/logger"
	"github.com/okian/flagrace/pkg/metrics"
)

// Leaderboard returns the top limit entries of the ranked leaderboard.
// A zero limit means the configured cap; larger limits are clamped to it.
// Negative limits are invalid.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("leaderboard limit %d: %w", limit, model.ErrInvalidInput)
	}
	if limit == 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	entries := s.projector.Read(ctx)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Rank returns the leaderboard entry of one team.
func (s *Service) Rank(ctx context.Context, teamID string) (model.LeaderboardEntry, error) {
	if err := s.running(); err != nil {
		return model.LeaderboardEntry{}, err
	}
	e, ok := ranking.RankOf(s.projector.Read(ctx), teamID)
	if !ok {
		return model.LeaderboardEntry{}, fmt.Errorf("team %s: %w", teamID, repository.ErrNotFound)
	}
	return e, nil
}

// TeamStatistics summarizes one team.
type TeamStatistics struct {
	TeamID              string  `json:"team_id"`
	Score               int64   `json:"score"`
	LevelsCompleted     int     `json:"levels_completed"`
	TotalHintsUsed      int     `json:"total_hints_used"`
	TotalTimeTaken      int64   `json:"total_time_taken"` // seconds, correct submissions only
	AverageTimePerLevel float64 `json:"average_time_per_level"`
	Rank                int     `json:"rank"` // 0 when not ranked
	Submissions         int     `json:"submissions"`
}

// TeamStatistics reads the aggregate and log of one team. The rank comes
// from a linear scan of the full sorted leaderboard.
func (s *Service) TeamStatistics(ctx context.Context, teamID string) (TeamStatistics, error) {
	if err := s.running(); err != nil {
		return TeamStatistics{}, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return TeamStatistics{}, err
	}
	subs, err := s.store.ListSubmissions(ctx, repository.SubmissionFilter{TeamID: teamID})
	if err != nil {
		return TeamStatistics{}, fmt.Errorf("list submissions: %w", err)
	}
	return s.statistics(ctx, team, subs), nil
}

func (s *Service) statistics(ctx context.Context, team model.Team, subs []model.SubmissionRecorded) TeamStatistics {
	st := TeamStatistics{
		TeamID:          team.ID,
		Score:           team.Score,
		LevelsCompleted: team.LevelsCompleted,
		TotalHintsUsed:  team.HintsUsed,
		Submissions:     len(subs),
	}
	for _, sub := range subs {
		if sub.Correct() {
			st.TotalTimeTaken += sub.TimeTaken
		}
	}
	if st.LevelsCompleted > 0 {
		st.AverageTimePerLevel = float64(st.TotalTimeTaken) / float64(st.LevelsCompleted)
	}
	if e, ok := ranking.RankOf(s.projector.Read(ctx), team.ID); ok {
		st.Rank = e.Rank
	}
	return st
}

// SolvedLevel is a level a team completed.
type SolvedLevel struct {
	LevelID      string `json:"level_id"`
	LevelName    string `json:"level_name"`
	ScoreAwarded int64  `json:"score_awarded"`
	TimeTaken    int64  `json:"time_taken"`
	HintsUsed    int    `json:"hints_used"`
	SolvedAt     int64  `json:"solved_at"`
}

// TeamDetail is the full read model of one team.
type TeamDetail struct {
	Team          model.Team       `json:"team"`
	Statistics    TeamStatistics   `json:"statistics"`
	SolvedLevels  []SolvedLevel    `json:"solved_levels"`
	WrongAttempts map[string]int   `json:"wrong_attempts"` // by level id
	Hints         []model.HintUsed `json:"hints"`
}

// TeamDetail reads a team with its solved levels, wrong attempts per level
// and unlocked hints.
func (s *Service) TeamDetail(ctx context.Context, teamID string) (TeamDetail, error) {
	if err := s.running(); err != nil {
		return TeamDetail{}, err
	}

	var (
		team   model.Team
		subs   []model.SubmissionRecorded
		hints  []model.HintUsed
		levels []model.Level
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { team, err = s.store.GetTeam(gctx, teamID); return err })
	g.Go(func() (err error) {
		subs, err = s.store.ListSubmissions(gctx, repository.SubmissionFilter{TeamID: teamID})
		return err
	})
	g.Go(func() (err error) { hints, err = s.store.ListHints(gctx, repository.HintFilter{TeamID: teamID}); return err })
	g.Go(func() (err error) { levels, err = s.store.ListLevels(gctx); return err })
	if err := g.Wait(); err != nil {
		return TeamDetail{}, fmt.Errorf("team detail %s: %w", teamID, err)
	}

	names := make(map[string]string, len(levels))
	for _, l := range levels {
		names[l.ID] = l.Name
	}
	d := TeamDetail{
		Team:          team,
		Statistics:    s.statistics(ctx, team, subs),
		SolvedLevels:  []SolvedLevel{},
		WrongAttempts: map[string]int{},
		Hints:         hints,
	}
	for _, sub := range subs {
		if !sub.Correct() {
			d.WrongAttempts[sub.LevelID]++
			continue
		}
		d.SolvedLevels = append(d.SolvedLevels, SolvedLevel{
			LevelID:      sub.LevelID,
			LevelName:    names[sub.LevelID],
			ScoreAwarded: sub.ScoreAwarded,
			TimeTaken:    sub.TimeTaken,
			HintsUsed:    sub.HintsUsed,
			SolvedAt:     sub.SubmittedAt,
		})
	}
	return d, nil
}

// state reads the inputs of the solve matrix concurrently.
func (s *Service) state(ctx context.Context) ([]model.Team, []model.Level, []model.SubmissionRecorded, error) {
	var (
		teams  []model.Team
		levels []model.Level
		subs   []model.SubmissionRecorded
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { teams, err = s.store.ListTeams(gctx); return err })
	g.Go(func() (err error) { levels, err = s.store.ListLevels(gctx); return err })
	g.Go(func() (err error) {
		subs, err = s.store.ListSubmissions(gctx, repository.SubmissionFilter{Status: model.StatusCorrect})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return teams, levels, subs, nil
}

// GroupOverview returns the teams, solve matrix and stats of one group.
func (s *Service) GroupOverview(ctx context.Context, groupID string) (matrix.GroupOverview, error) {
	if err := s.running(); err != nil {
		return matrix.GroupOverview{}, err
	}
	teams, levels, subs, err := s.state(ctx)
	if err != nil {
		return matrix.GroupOverview{}, fmt.Errorf("group overview %s: %w", groupID, err)
	}
	o := matrix.Overview(groupID, teams, levels, subs)
	if o.Stats.TotalTeams == 0 {
		return matrix.GroupOverview{}, fmt.Errorf("group %s: %w", groupID, repository.ErrNotFound)
	}
	metrics.RecordMatrixRebuild()
	return o, nil
}

// LevelRef names a level without its definition.
type LevelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MatrixView is the full team x level solve matrix with its axes.
type MatrixView struct {
	Teams  []model.TeamRef `json:"teams"`
	Levels []LevelRef      `json:"levels"`
	Cells  [][]int         `json:"cells"`
}

// Matrix returns the solve matrix of every team and level.
func (s *Service) Matrix(ctx context.Context) (MatrixView, error) {
	if err := s.running(); err != nil {
		return MatrixView{}, err
	}
	return s.matrixView(ctx)
}

func (s *Service) matrixView(ctx context.Context) (MatrixView, error) {
	teams, levels, subs, err := s.state(ctx)
	if err != nil {
		return MatrixView{}, fmt.Errorf("solve matrix: %w", err)
	}
	mv := MatrixView{
		Teams:  make([]model.TeamRef, len(teams)),
		Levels: make([]LevelRef, len(levels)),
		Cells:  matrix.Materialize(teams, levels, subs),
	}
	for i, t := range teams {
		mv.Teams[i] = t.Ref()
	}
	for i, l := range levels {
		mv.Levels[i] = LevelRef{ID: l.ID, Name: l.Name}
	}
	metrics.RecordMatrixRebuild()
	return mv, nil
}

// SubmissionPage is one page of the submission log, newest first.
type SubmissionPage struct {
	Items    []model.SubmissionRecorded `json:"items"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Total    int                        `json:"total"`
}

// SubmissionLogs pages through the submission log, newest first. Pages
// start at 1; pageSize is clamped to the leaderboard cap.
func (s *Service) SubmissionLogs(ctx context.Context, page, pageSize int) (SubmissionPage, error) {
	if err := s.running(); err != nil {
		return SubmissionPage{}, err
	}
	page = max(page, 1)
	if pageSize <= 0 || pageSize > s.maxLimit {
		pageSize = s.maxLimit
	}

	f := repository.SubmissionFilter{NewestFirst: true, Limit: pageSize, Offset: (page - 1) * pageSize}
	items, err := s.store.ListSubmissions(ctx, f)
	if err != nil {
		return SubmissionPage{}, fmt.Errorf("list submissions: %w", err)
	}
	total, err := s.store.CountSubmissions(ctx, repository.SubmissionFilter{})
	if err != nil {
		return SubmissionPage{}, fmt.Errorf("count submissions: %w", err)
	}
	return SubmissionPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// Anomalies runs the detector over the most recent submissions. Reading
// fails soft: an unreadable log yields no findings.
func (s *Service) Anomalies(ctx context.Context) ([]model.AnomalyFinding, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	window, err := s.store.ListSubmissions(ctx, repository.SubmissionFilter{NewestFirst: true, Limit: s.detector.Thresholds().WindowSize})
	if err != nil {
		s.logger.Warn(ctx, "anomaly window unreadable", logger.Error(err))
		return []model.AnomalyFinding{}, nil
	}
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		s.logger.Warn(ctx, "team names unreadable", logger.Error(err))
	}
	refs := make([]model.TeamRef, len(teams))
	for i, t := range teams {
		refs[i] = t.Ref()
	}
	findings := s.detector.Detect(window, refs)
	if findings == nil {
		findings = []model.AnomalyFinding{}
	}
	return findings, nil
}
