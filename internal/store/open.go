package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Settings selects the backends composed by Open.
type Settings struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
	CacheTTL      time.Duration
	R2            *R2Options // nil keeps uploaded bytes in the table
}

// Open builds the asset store: the SQL table, optionally offloading bytes to
// R2 and fronted by Redis when rdb is not nil.
func Open(ctx context.Context, db *gorm.DB, rdb *redis.Client, s Settings) (Store, error) {
	opts := []Option{WithLimits(s.MaxEntryBytes, s.MaxTotalBytes)}
	if s.R2 != nil {
		bucket, err := NewR2Bucket(ctx, *s.R2)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithBucket(bucket))
	}

	var st Store = NewGormStore(db, opts...)
	if rdb != nil {
		st = NewCachedStore(st, rdb, s.CacheTTL)
	}
	return st, nil
}
