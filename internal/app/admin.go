package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/okian/flagrace/internal/adapters/mq/feed"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
)

// InitRequest configures a new competition.
type InitRequest struct {
	EventName   string `json:"event_name" validate:"required,max=256"`
	TotalTeams  int    `json:"total_teams" validate:"gt=0,lte=10000"`
	TotalGroups int    `json:"total_groups" validate:"gt=0,lte=10000"`
	TotalLevels int    `json:"total_levels" validate:"gt=0,lte=10000"`
	// CreateTeams registers placeholder teams "team-001".. spread across
	// groups "group-1".. in blocks of TeamsPerGroup. Existing teams keep
	// their aggregates.
	CreateTeams bool `json:"create_teams"`
}

// InitializeEvent stores the competition settings. Teams per group is
// ceil(totalTeams / totalGroups).
func (s *Service) InitializeEvent(ctx context.Context, req InitRequest) (model.EventConfig, error) {
	if err := s.running(); err != nil {
		return model.EventConfig{}, err
	}
	if err := model.Validate(req); err != nil {
		return model.EventConfig{}, err
	}

	cfg := model.EventConfig{
		Name:          req.EventName,
		TotalTeams:    req.TotalTeams,
		TotalGroups:   req.TotalGroups,
		TotalLevels:   req.TotalLevels,
		TeamsPerGroup: (req.TotalTeams + req.TotalGroups - 1) / req.TotalGroups,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.SaveEventConfig(ctx, cfg); err != nil {
		return model.EventConfig{}, fmt.Errorf("save event config: %w", err)
	}

	if req.CreateTeams {
		for i := 0; i < cfg.TotalTeams; i++ {
			t := model.Team{
				ID:      fmt.Sprintf("team-%03d", i+1),
				Name:    fmt.Sprintf("Team %d", i+1),
				GroupID: fmt.Sprintf("group-%d", i/cfg.TeamsPerGroup+1),
			}
			if err := s.store.UpsertTeam(ctx, t); err != nil {
				return model.EventConfig{}, fmt.Errorf("create team %s: %w", t.ID, err)
			}
		}
		s.broker.Publish(ctx, feed.TopicTeams, nil)
	}

	s.logger.Info(ctx, "event initialized")
	return cfg, nil
}

// EventConfig returns the stored competition settings.
func (s *Service) EventConfig(ctx context.Context) (model.EventConfig, error) {
	if err := s.running(); err != nil {
		return model.EventConfig{}, err
	}
	return s.store.GetEventConfig(ctx)
}

// ResetResponse is the outcome of a reset as reported to administrators.
type ResetResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Result  lifecycle.Result `json:"result"`
}

// ResetCompetition zeroes every team and clears the event log and the
// leaderboard. A failed reset leaves the state incomplete; rerun it.
func (s *Service) ResetCompetition(ctx context.Context) (ResetResponse, error) {
	if err := s.running(); err != nil {
		return ResetResponse{}, err
	}
	res, err := s.coordinator.ResetCompetition(ctx)
	switch {
	case errors.Is(err, lifecycle.ErrResetInProgress):
		return ResetResponse{Success: false, Message: "reset already in progress", Result: res}, err
	case err != nil:
		return ResetResponse{Success: false, Message: "reset incomplete, run it again: " + err.Error(), Result: res}, err
	}
	return ResetResponse{
		Success: true,
		Message: fmt.Sprintf("competition reset: %d teams zeroed, %d submissions and %d hints removed", res.TeamsReset, res.SubmissionsDeleted, res.HintsDeleted),
		Result:  res,
	}, nil
}

// ResetStatus reports the state of the last reset.
func (s *Service) ResetStatus() (lifecycle.Status, error) {
	if err := s.running(); err != nil {
		return lifecycle.Status{}, err
	}
	return s.coordinator.Status(), nil
}

// Export returns a snapshot of the whole competition state.
func (s *Service) Export(ctx context.Context) (model.Snapshot, error) {
	if err := s.running(); err != nil {
		return model.Snapshot{}, err
	}
	return s.coordinator.ExportSnapshot(ctx)
}

// Announce broadcasts a message to every team. Only the most recent
// announcements are kept.
func (s *Service) Announce(ctx context.Context, message string) (model.Announcement, error) {
	if err := s.running(); err != nil {
		return model.Announcement{}, err
	}
	a := model.Announcement{ID: uuid.NewString(), Message: message, CreatedAt: s.now().UTC()}
	if err := model.Validate(a); err != nil {
		return model.Announcement{}, err
	}

	s.annMu.Lock()
	s.announcements = append(s.announcements, a)
	if n := len(s.announcements); n > maxAnnouncements {
		s.announcements = slices.Clone(s.announcements[n-maxAnnouncements:])
	}
	s.annMu.Unlock()

	s.broker.Publish(ctx, feed.TopicAnnouncements, a)
	return a, nil
}

// Announcements returns the kept announcements, newest first.
func (s *Service) Announcements() []model.Announcement {
	s.annMu.RLock()
	out := slices.Clone(s.announcements)
	s.annMu.RUnlock()
	slices.Reverse(out)
	if out == nil {
		out = []model.Announcement{}
	}
	return out
}
