package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/config"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/db"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/db/migrate"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/repository"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/service"
)

const (
	connectTimeout = 10 * time.Second
	purgeInterval  = 10 * time.Minute
)

// openRepository opens the configured backend. Postgres migrations are applied on start.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Repository, error) {
	backend, fellBack := cfg.EffectiveStoreBackend()
	if fellBack {
		logger.Warn("REDIS_URL is not set; history is kept in memory and lost on restart")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch backend {
	case config.BackendRedis:
		rdb, err := repository.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("session store ready", "backend", backend)
		return repository.NewRedisRepository(rdb, cfg.HistoryTTL()), nil
	case config.BackendPostgres:
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		logger.Info("session store ready", "backend", backend)
		return repository.NewPostgresRepository(sqlDB, cfg.HistoryTTL()), nil
	default:
		logger.Info("session store ready", "backend", config.BackendMemory)
		return repository.NewMemoryRepository(cfg.HistoryTTL()), nil
	}
}

// purgeLoop sweeps expired records until ctx is done.
func purgeLoop(ctx context.Context, store *service.Store, logger *slog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := store.Purge(ctx); err != nil {
				logger.WarnContext(ctx, "purge expired records failed", "error", err)
			}
		}
	}
}
