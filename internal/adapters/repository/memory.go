package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/okian/flagrace/internal/domain/model"
)

// MemoryStore implements Repository in process memory. It is the default
// backend and the one tests use.
type MemoryStore struct {
	mu          sync.RWMutex
	teams       map[string]model.Team
	levels      map[string]model.Level
	submissions []model.SubmissionRecorded
	hints       []model.HintUsed
	logIDs      map[string]struct{}
	processed   map[string]struct{}
	eventCfg    *model.EventConfig
	projection  []model.LeaderboardEntry
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:     make(map[string]model.Team),
		levels:    make(map[string]model.Level),
		logIDs:    make(map[string]struct{}),
		processed: make(map[string]struct{}),
	}
}

func (s *MemoryStore) UpsertTeam(ctx context.Context, t model.Team) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.teams[t.ID]; ok {
		// Identity fields only; the aggregate belongs to ApplyTeamDelta.
		old.Name, old.GroupID = t.Name, t.GroupID
		s.teams[t.ID] = old
		return nil
	}
	s.teams[t.ID] = t
	return nil
}

func (s *MemoryStore) GetTeam(ctx context.Context, id string) (model.Team, error) {
	if err := ctx.Err(); err != nil {
		return model.Team{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return model.Team{}, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Team) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) ApplyTeamDelta(ctx context.Context, eventID, teamID string, delta model.TeamDelta) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.processed[eventID]; done {
		return false, nil
	}
	t, ok := s.teams[teamID]
	if !ok {
		return false, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	delta.Apply(&t)
	s.teams[teamID] = t
	s.processed[eventID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ZeroTeams(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.teams {
		t.Score, t.LevelsCompleted, t.TimePenalty, t.HintsUsed = 0, 0, 0, 0
		s.teams[id] = t
	}
	return len(s.teams), nil
}

func (s *MemoryStore) ClearProcessed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	clear(s.processed)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpsertLevel(ctx context.Context, l model.Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.levels[l.ID] = l
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLevel(ctx context.Context, id string) (model.Level, error) {
	if err := ctx.Err(); err != nil {
		return model.Level{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[id]
	if !ok {
		return model.Level{}, fmt.Errorf("level %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (s *MemoryStore) ListLevels(ctx context.Context) ([]model.Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Level, 0, len(s.levels))
	for _, l := range s.levels {
		out = append(out, l)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, compareLevels)
	return out, nil
}

func compareLevels(a, b model.Level) int {
	return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
}

func (s *MemoryStore) AppendSubmission(ctx context.Context, sub model.SubmissionRecorded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.logIDs[sub.ID]; dup {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrDuplicate)
	}
	s.logIDs[sub.ID] = struct{}{}
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *MemoryStore) AppendHint(ctx context.Context, h model.HintUsed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.logIDs[h.ID]; dup {
		return fmt.Errorf("hint %s: %w", h.ID, ErrDuplicate)
	}
	s.logIDs[h.ID] = struct{}{}
	s.hints = append(s.hints, h)
	return nil
}

func (s *MemoryStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]model.SubmissionRecorded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.SubmissionRecorded, 0, len(s.submissions))
	for _, sub := range s.submissions {
		if matchSubmission(f, sub) {
			out = append(out, sub)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.SubmissionRecorded) int {
		c := cmp.Or(cmp.Compare(a.SubmittedAt, b.SubmittedAt), cmp.Compare(a.ID, b.ID))
		if f.NewestFirst {
			return -c
		}
		return c
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) CountSubmissions(ctx context.Context, f SubmissionFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sub := range s.submissions {
		if matchSubmission(f, sub) {
			n++
		}
	}
	return n, nil
}

func matchSubmission(f SubmissionFilter, s model.SubmissionRecorded) bool {
	return (f.ID == "" || f.ID == s.ID) &&
		(f.TeamID == "" || f.TeamID == s.TeamID) &&
		(f.LevelID == "" || f.LevelID == s.LevelID) &&
		(f.Status == "" || f.Status == s.Status)
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) ListHints(ctx context.Context, f HintFilter) ([]model.HintUsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.HintUsed, 0, len(s.hints))
	for _, h := range s.hints {
		if (f.ID == "" || f.ID == h.ID) && (f.TeamID == "" || f.TeamID == h.TeamID) && (f.LevelID == "" || f.LevelID == h.LevelID) {
			out = append(out, h)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.HintUsed) int {
		return cmp.Or(cmp.Compare(a.UsedAt, b.UsedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) DeleteSubmissions(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		return 0, ErrInvalidBatch
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(batch, len(s.submissions))
	for _, sub := range s.submissions[:n] {
		delete(s.logIDs, sub.ID)
	}
	s.submissions = slices.Delete(s.submissions, 0, n)
	return n, nil
}

func (s *MemoryStore) DeleteHints(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		return 0, ErrInvalidBatch
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(batch, len(s.hints))
	for _, h := range s.hints[:n] {
		delete(s.logIDs, h.ID)
	}
	s.hints = slices.Delete(s.hints, 0, n)
	return n, nil
}

func (s *MemoryStore) SaveEventConfig(ctx context.Context, cfg model.EventConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.eventCfg = &cfg
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetEventConfig(ctx context.Context) (model.EventConfig, error) {
	if err := ctx.Err(); err != nil {
		return model.EventConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eventCfg == nil {
		return model.EventConfig{}, fmt.Errorf("event config: %w", ErrNotFound)
	}
	return *s.eventCfg, nil
}

func (s *MemoryStore) ReplaceProjection(ctx context.Context, entries []model.LeaderboardEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := slices.Clone(entries)
	s.mu.Lock()
	s.projection = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ReadProjection(ctx context.Context) ([]model.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.projection), nil
}

func (s *MemoryStore) ClearProjection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.projection = nil
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
