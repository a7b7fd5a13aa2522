package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRunLock_Exclusive(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	ns := "ingest_test.chunks_" + time.Now().Format("150405.000000000")

	first := NewRunLock(rdb, ns, time.Minute)
	second := NewRunLock(rdb, ns, time.Minute)
	t.Cleanup(func() { rdb.Del(context.Background(), first.Key()) })

	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrLockHeld)

	// Releasing someone else's lock is a no-op.
	require.NoError(t, second.Release(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrLockHeld)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestRunLock_Expires(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	ns := "ingest_test.expiry_" + time.Now().Format("150405.000000000")

	lock := NewRunLock(rdb, ns, 100*time.Millisecond)
	require.NoError(t, lock.Acquire(ctx))

	assert.Eventually(t, func() bool {
		return NewRunLock(rdb, ns, time.Minute).Acquire(ctx) == nil
	}, 2*time.Second, 50*time.Millisecond)
	rdb.Del(ctx, lock.Key())
}
