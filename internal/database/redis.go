package database

import (
	"context"
	"time"

	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var Redis *redis.Client

// InitRedis connects to Redis when an address is configured. A failed ping
// leaves Redis nil so callers fall back to the database alone.
func InitRedis(addr, password string) {
	if addr == "" {
		logger.Info().Msg("Redis not configured, asset reference cache disabled")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Failed to connect to Redis, asset reference cache disabled")
		_ = client.Close()
		return
	}

	Redis = client
	logger.Info().Str("addr", addr).Msg("Connected to Redis successfully")
}
