package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/flagrace/internal/domain/model"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore implements Repository on a SQLite database. The processed
// event ids live in their own table so the idempotency check and the
// aggregate update commit together.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLiteStore opens dsn with the pure-Go sqlite driver and migrates the schema.
func OpenSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := NewSQLiteStore(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and migrates the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, opts: newOptions(opts)}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	group_id TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL DEFAULT 0,
	levels_completed INTEGER NOT NULL DEFAULT 0,
	time_penalty INTEGER NOT NULL DEFAULT 0,
	hints_used INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS levels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	ord INTEGER NOT NULL DEFAULT 0,
	base_points INTEGER NOT NULL DEFAULT 0,
	difficulty TEXT NOT NULL DEFAULT '',
	hint_type TEXT NOT NULL,
	point_deduction INTEGER NOT NULL DEFAULT 0,
	time_penalty_minutes INTEGER NOT NULL DEFAULT 0,
	hints TEXT NOT NULL DEFAULT '[]',
	flag TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL,
	level_id TEXT NOT NULL,
	status TEXT NOT NULL,
	score_awarded INTEGER NOT NULL,
	time_penalty INTEGER NOT NULL,
	time_taken INTEGER NOT NULL,
	hints_used INTEGER NOT NULL,
	submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_time ON submissions (submitted_at, id);
CREATE INDEX IF NOT EXISTS submissions_team ON submissions (team_id, level_id);
CREATE TABLE IF NOT EXISTS hints (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL,
	level_id TEXT NOT NULL,
	hint_type TEXT NOT NULL,
	penalty INTEGER NOT NULL,
	used_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS event_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	name TEXT NOT NULL,
	total_teams INTEGER NOT NULL,
	total_groups INTEGER NOT NULL,
	total_levels INTEGER NOT NULL,
	teams_per_group INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS leaderboard (
	team_id TEXT PRIMARY KEY,
	team_name TEXT NOT NULL,
	group_id TEXT NOT NULL,
	score INTEGER NOT NULL,
	levels_completed INTEGER NOT NULL,
	total_time_penalty INTEGER NOT NULL,
	last_submission_at INTEGER NOT NULL,
	rank INTEGER NOT NULL
);`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertTeam(ctx context.Context, t model.Team) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, group_id, score, levels_completed, time_penalty, hints_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, group_id = excluded.group_id`,
		t.ID, t.Name, t.GroupID, t.Score, t.LevelsCompleted, t.TimePenalty, t.HintsUsed)
	if err != nil {
		return fmt.Errorf("upsert team %s: %w", t.ID, err)
	}
	return nil
}

const teamColumns = `id, name, group_id, score, levels_completed, time_penalty, hints_used`

type scanner interface {
	Scan(dest ...any) error
}

func scanTeam(row scanner) (model.Team, error) {
	var t model.Team
	err := row.Scan(&t.ID, &t.Name, &t.GroupID, &t.Score, &t.LevelsCompleted, &t.TimePenalty, &t.HintsUsed)
	return t, err
}

func (s *SQLiteStore) GetTeam(ctx context.Context, id string) (model.Team, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	t, err := scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Team{}, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	teams := []model.Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *SQLiteStore) ApplyTeamDelta(ctx context.Context, eventID, teamID string, d model.TeamDelta) (applied bool, err error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if !applied {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO processed_events (event_id) VALUES (?) ON CONFLICT(event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE teams SET
			score = MAX(0, score + ?),
			levels_completed = MAX(0, levels_completed + ?),
			time_penalty = MAX(0, time_penalty + ?),
			hints_used = MAX(0, hints_used + ?)
		WHERE id = ?`,
		d.Score, d.LevelsCompleted, d.TimePenalty, d.HintsUsed, teamID)
	if err != nil {
		return false, fmt.Errorf("update team %s: %w", teamID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ZeroTeams(ctx context.Context) (int, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET score = 0, levels_completed = 0, time_penalty = 0, hints_used = 0`)
	if err != nil {
		return 0, fmt.Errorf("zero teams: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ClearProcessed(ctx context.Context) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processed_events`); err != nil {
		return fmt.Errorf("clear processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertLevel(ctx context.Context, l model.Level) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	hints, err := json.Marshal(l.Hints)
	if err != nil {
		return fmt.Errorf("encode hints: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO levels (id, name, ord, base_points, difficulty, hint_type, point_deduction, time_penalty_minutes, hints, flag, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, ord = excluded.ord, base_points = excluded.base_points,
			difficulty = excluded.difficulty, hint_type = excluded.hint_type,
			point_deduction = excluded.point_deduction, time_penalty_minutes = excluded.time_penalty_minutes,
			hints = excluded.hints, flag = excluded.flag, is_active = excluded.is_active`,
		l.ID, l.Name, l.Order, l.BasePoints, l.Difficulty, string(l.HintType), l.PointDeduction,
		l.TimePenaltyMinutes, string(hints), l.Flag, l.IsActive)
	if err != nil {
		return fmt.Errorf("upsert level %s: %w", l.ID, err)
	}
	return nil
}

const levelColumns = `id, name, ord, base_points, difficulty, hint_type, point_deduction, time_penalty_minutes, hints, flag, is_active`

func scanLevel(row scanner) (model.Level, error) {
	var (
		l        model.Level
		hintType string
		hints    string
	)
	if err := row.Scan(&l.ID, &l.Name, &l.Order, &l.BasePoints, &l.Difficulty, &hintType,
		&l.PointDeduction, &l.TimePenaltyMinutes, &hints, &l.Flag, &l.IsActive); err != nil {
		return model.Level{}, err
	}
	l.HintType = model.HintType(hintType)
	if err := json.Unmarshal([]byte(hints), &l.Hints); err != nil {
		return model.Level{}, fmt.Errorf("decode hints of %s: %w", l.ID, err)
	}
	return l, nil
}

func (s *SQLiteStore) GetLevel(ctx context.Context, id string) (model.Level, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	l, err := scanLevel(s.db.QueryRowContext(ctx, `SELECT `+levelColumns+` FROM levels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Level{}, fmt.Errorf("level %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Level{}, fmt.Errorf("get level %s: %w", id, err)
	}
	return l, nil
}

func (s *SQLiteStore) ListLevels(ctx context.Context) ([]model.Level, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT `+levelColumns+` FROM levels ORDER BY ord, id`)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	levels := []model.Level{}
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

func (s *SQLiteStore) AppendSubmission(ctx context.Context, sub model.SubmissionRecorded) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, team_id, level_id, status, score_awarded, time_penalty, time_taken, hints_used, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		sub.ID, sub.TeamID, sub.LevelID, string(sub.Status), sub.ScoreAwarded, sub.TimePenalty,
		sub.TimeTaken, sub.HintsUsed, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("append submission %s: %w", sub.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrDuplicate)
	}
	return nil
}

func (s *SQLiteStore) AppendHint(ctx context.Context, h model.HintUsed) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hints (id, team_id, level_id, hint_type, penalty, used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		h.ID, h.TeamID, h.LevelID, string(h.HintType), h.Penalty, h.UsedAt)
	if err != nil {
		return fmt.Errorf("append hint %s: %w", h.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hint %s: %w", h.ID, ErrDuplicate)
	}
	return nil
}

// where renders the filter as a WHERE clause with positional args.
func (f SubmissionFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	if f.TeamID != "" {
		conds = append(conds, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if f.LevelID != "" {
		conds = append(conds, "level_id = ?")
		args = append(args, f.LevelID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]model.SubmissionRecorded, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	where, args := f.where()
	order := " ORDER BY submitted_at, id"
	if f.NewestFirst {
		order = " ORDER BY submitted_at DESC, id DESC"
	}
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, level_id, status, score_awarded, time_penalty, time_taken, hints_used, submitted_at
		FROM submissions`+where+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := []model.SubmissionRecorded{}
	for rows.Next() {
		var (
			sub    model.SubmissionRecorded
			status string
		)
		if err := rows.Scan(&sub.ID, &sub.TeamID, &sub.LevelID, &status, &sub.ScoreAwarded,
			&sub.TimePenalty, &sub.TimeTaken, &sub.HintsUsed, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Status = model.SubmissionStatus(status)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) CountSubmissions(ctx context.Context, f SubmissionFilter) (int, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	where, args := f.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListHints(ctx context.Context, f HintFilter) ([]model.HintUsed, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, level_id, hint_type, penalty, used_at FROM hints
		WHERE (? = '' OR id = ?) AND (? = '' OR team_id = ?) AND (? = '' OR level_id = ?)
		ORDER BY used_at, id`, f.ID, f.ID, f.TeamID, f.TeamID, f.LevelID, f.LevelID)
	if err != nil {
		return nil, fmt.Errorf("list hints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hints := []model.HintUsed{}
	for rows.Next() {
		var (
			h        model.HintUsed
			hintType string
		)
		if err := rows.Scan(&h.ID, &h.TeamID, &h.LevelID, &hintType, &h.Penalty, &h.UsedAt); err != nil {
			return nil, fmt.Errorf("scan hint: %w", err)
		}
		h.HintType = model.HintType(hintType)
		hints = append(hints, h)
	}
	return hints, rows.Err()
}

func (s *SQLiteStore) deleteBatch(ctx context.Context, table, order string, batch int) (int, error) {
	if batch <= 0 {
		return 0, ErrInvalidBatch
	}
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id IN (SELECT id FROM `+table+` ORDER BY `+order+` LIMIT ?)`, batch)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteSubmissions(ctx context.Context, batch int) (int, error) {
	return s.deleteBatch(ctx, "submissions", "submitted_at, id", batch)
}

func (s *SQLiteStore) DeleteHints(ctx context.Context, batch int) (int, error) {
	return s.deleteBatch(ctx, "hints", "used_at, id", batch)
}

func (s *SQLiteStore) SaveEventConfig(ctx context.Context, cfg model.EventConfig) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_config (id, name, total_teams, total_groups, total_levels, teams_per_group, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, total_teams = excluded.total_teams, total_groups = excluded.total_groups,
			total_levels = excluded.total_levels, teams_per_group = excluded.teams_per_group,
			created_at = excluded.created_at`,
		cfg.Name, cfg.TotalTeams, cfg.TotalGroups, cfg.TotalLevels, cfg.TeamsPerGroup,
		cfg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save event config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEventConfig(ctx context.Context) (model.EventConfig, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	var (
		cfg       model.EventConfig
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, total_teams, total_groups, total_levels, teams_per_group, created_at
		FROM event_config WHERE id = 1`).
		Scan(&cfg.Name, &cfg.TotalTeams, &cfg.TotalGroups, &cfg.TotalLevels, &cfg.TeamsPerGroup, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EventConfig{}, fmt.Errorf("event config: %w", ErrNotFound)
	}
	if err != nil {
		return model.EventConfig{}, fmt.Errorf("get event config: %w", err)
	}
	if cfg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.EventConfig{}, fmt.Errorf("parse created_at: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) ReplaceProjection(ctx context.Context, entries []model.LeaderboardEntry) (err error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM leaderboard`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leaderboard (team_id, team_name, group_id, score, levels_completed, total_time_penalty, last_submission_at, rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err = stmt.ExecContext(ctx, e.TeamID, e.TeamName, e.GroupID, e.Score, e.LevelsCompleted,
			e.TotalTimePenalty, e.LastSubmissionAt, e.Rank); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.TeamID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadProjection(ctx context.Context) ([]model.LeaderboardEntry, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, team_name, group_id, score, levels_completed, total_time_penalty, last_submission_at, rank
		FROM leaderboard ORDER BY rank`)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.TeamID, &e.TeamName, &e.GroupID, &e.Score, &e.LevelsCompleted,
			&e.TotalTimePenalty, &e.LastSubmissionAt, &e.Rank); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) ClearProjection(ctx context.Context) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leaderboard`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
