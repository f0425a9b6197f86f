package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	st, err := Open(ctx, db, nil, Settings{MaxEntryBytes: 10})
	require.NoError(t, err)
	gs, ok := st.(*GormStore)
	require.True(t, ok)
	assert.Equal(t, int64(10), gs.maxEntry)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	st, err = Open(ctx, db, rdb, Settings{CacheTTL: time.Minute})
	require.NoError(t, err)
	_, ok = st.(*CachedStore)
	assert.True(t, ok)

	st, err = Open(ctx, db, nil, Settings{R2: &R2Options{AccountID: "acct", AccessKeyID: "id", SecretAccessKey: "secret", Bucket: "ducks"}})
	require.NoError(t, err)
	gs = st.(*GormStore)
	require.NotNil(t, gs.bucket)
}
