package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/flagrace/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// RedisProjection keeps the leaderboard projection in Redis:
//   - sorted set "<prefix>leaderboard:rank" maps teamID -> rank
//   - hash "<prefix>leaderboard:entries" maps teamID -> entry JSON
type RedisProjection struct {
	client redis.Cmdable
	opts   options
}

var _ ProjectionStore = (*RedisProjection)(nil)

// NewRedisProjection creates a projection store on client.
func NewRedisProjection(client redis.Cmdable, opts ...Option) *RedisProjection {
	return &RedisProjection{client: client, opts: newOptions(opts)}
}

func (r *RedisProjection) rankKey() string    { return r.opts.keyPrefix + "leaderboard:rank" }
func (r *RedisProjection) entriesKey() string { return r.opts.keyPrefix + "leaderboard:entries" }

// Ping checks connectivity.
func (r *RedisProjection) Ping(ctx context.Context) error {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %w", ErrUnavailable, err)
	}
	return nil
}

// ReplaceProjection rebuilds both keys in one MULTI/EXEC so readers never see
// a half-written projection.
func (r *RedisProjection) ReplaceProjection(ctx context.Context, entries []model.LeaderboardEntry) error {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	members := make([]redis.Z, 0, len(entries))
	fields := make([]any, 0, 2*len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.TeamID, err)
		}
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.TeamID})
		fields = append(fields, e.TeamID, data)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.rankKey(), r.entriesKey())
	if len(entries) > 0 {
		pipe.ZAdd(ctx, r.rankKey(), members...)
		pipe.HSet(ctx, r.entriesKey(), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace projection: %w", err)
	}
	return nil
}

// ReadProjection returns entries ordered by rank.
func (r *RedisProjection) ReadProjection(ctx context.Context) ([]model.LeaderboardEntry, error) {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()

	ids, err := r.client.ZRange(ctx, r.rankKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ranks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := r.client.HMGet(ctx, r.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// Entry missing next to its rank; the next refresh rewrites both.
			return nil, fmt.Errorf("entry %s: %w", ids[i], ErrNotFound)
		}
		var e model.LeaderboardEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry %s: %w", ids[i], err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ClearProjection deletes both keys.
func (r *RedisProjection) ClearProjection(ctx context.Context) error {
	ctx, cancel := r.opts.bound(ctx)
	defer cancel()
	if err := r.client.Del(ctx, r.rankKey(), r.entriesKey()).Err(); err != nil {
		return fmt.Errorf("clear projection: %w", err)
	}
	return nil
}

// splitRepository routes projection calls to a separate store.
type splitRepository struct {
	Repository
	projection ProjectionStore
}

// WithProjectionStore returns base with its projection replaced by p.
func WithProjectionStore(base Repository, p ProjectionStore) Repository {
	if p == nil {
		return base
	}
	return splitRepository{Repository: base, projection: p}
}

func (s splitRepository) ReplaceProjection(ctx context.Context, entries []model.LeaderboardEntry) error {
	return s.projection.ReplaceProjection(ctx, entries)
}

func (s splitRepository) ReadProjection(ctx context.Context) ([]model.LeaderboardEntry, error) {
	return s.projection.ReadProjection(ctx)
}

func (s splitRepository) ClearProjection(ctx context.Context) error {
	return s.projection.ClearProjection(ctx)
}
