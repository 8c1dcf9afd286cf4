package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/flagrace/internal/adapters/repository"
	"github.com/okian/flagrace/internal/config"
	"github.com/okian/flagrace/pkg/logger"
)

// OpenRepository builds the storage backend named by cfg: the event log and
// aggregates in memory or SQLite, the leaderboard projection optionally in
// Redis.
func OpenRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	log := logger.Get().Named("backend")
	opts := []repository.Option{repository.WithTimeout(cfg.StoreTimeout())}

	var base repository.Repository
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		base = repository.NewMemoryStore()
	case config.BackendSQLite:
		st, err := repository.OpenSQLiteStore(ctx, cfg.SQLiteDSN, opts...)
		if err != nil {
			return nil, err
		}
		base = st
	default:
		return nil, fmt.Errorf("%w: store %q", ErrUnknownBackend, cfg.StoreBackend)
	}
	log.Info(ctx, "event log backend ready", logger.String("backend", cfg.StoreBackend))

	switch cfg.ProjectionBackend {
	case config.BackendMemory, "":
		return base, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		proj := repository.NewRedisProjection(client, opts...)
		if err := proj.Ping(ctx); err != nil {
			_ = client.Close()
			_ = base.Close()
			return nil, err
		}
		log.Info(ctx, "leaderboard projection in redis", logger.String("addr", cfg.RedisAddr))
		return closeWith(repository.WithProjectionStore(base, proj), client.Close), nil
	default:
		_ = base.Close()
		return nil, fmt.Errorf("%w: projection %q", ErrUnknownBackend, cfg.ProjectionBackend)
	}
}

// closingRepository closes an extra resource after the repository.
type closingRepository struct {
	repository.Repository
	extra func() error
}

func closeWith(r repository.Repository, extra func() error) repository.Repository {
	return closingRepository{Repository: r, extra: extra}
}

func (c closingRepository) Close() error {
	err := c.Repository.Close()
	if xerr := c.extra(); err == nil {
		err = xerr
	}
	return err
}
