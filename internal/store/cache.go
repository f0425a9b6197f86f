package store

import (
	"context"
	"errors"
	"time"

	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const refCachePrefix = "asset_ref:"

// CachedStore caches resolved references in Redis in front of another Store.
// Redis errors are logged and the underlying store is used instead.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   logger.With("store.cache"),
	}
}

func (c *CachedStore) Load(ctx context.Context, key string) (string, bool) {
	ref, err := c.rdb.Get(ctx, refCachePrefix+key).Result()
	switch {
	case err == nil && ref != "":
		return ref, true
	case err != nil && !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("key", key).Msg("redis get failed, reading through")
	}

	ref, ok := c.Store.Load(ctx, key)
	if !ok {
		return "", false
	}
	if err := c.rdb.Set(ctx, refCachePrefix+key, ref, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("redis set failed")
	}
	return ref, true
}

func (c *CachedStore) Save(ctx context.Context, key string, img Image) error {
	err := c.Store.Save(ctx, key, img)
	if delErr := c.rdb.Del(ctx, refCachePrefix+key).Err(); delErr != nil {
		c.log.Warn().Err(delErr).Str("key", key).Msg("redis invalidate failed")
	}
	return err
}
