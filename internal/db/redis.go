package db

import (
	"context"
	"fmt"

	"github.com/lijuuu/ContestBroadcastService/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to redis and checks the connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logPersistence(ctx, rdb, log)
	log.Info("connected to redis", zap.String("addr", cfg.RedisURL), zap.Int("db", cfg.RedisDB))
	return rdb, nil
}

// logPersistence reports how much of the event log survived a redis restart.
func logPersistence(ctx context.Context, rdb *redis.Client, log *zap.Logger) {
	rooms, err := rdb.SCard(ctx, "events:rooms").Result()
	if err != nil {
		log.Warn("could not read event log index", zap.Error(err))
		return
	}
	if rooms > 0 {
		log.Info("event log loaded from redis", zap.Int64("rooms", rooms))
	} else {
		log.Info("starting with an empty event log")
	}
}
