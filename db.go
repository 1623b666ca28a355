package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/store"
)

// initDB connects to PostgreSQL and applies pending migrations.
func initDB(ctx context.Context, cfg config, log *logger.Logger) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database connection established")
	return db, nil
}

// initRedis returns nil when REDIS_URL is unset; token revocation and rate
// limiting then stay in process memory.
func initRedis(ctx context.Context, cfg config, log *logger.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, using in-memory revocation list and rate limiter")
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Info("redis connection established")
	return rdb, nil
}
