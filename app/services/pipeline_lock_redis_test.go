package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisForTest connects to TEST_REDIS_URL (default localhost db 15) and
// skips when nothing answers.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedisPipelineLock(t *testing.T) {
	rc := redisForTest(t)
	ctx := context.Background()
	prefix := "adguard-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := rc.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rc.Del(ctx, keys...)
		}
	})

	t.Run("ExclusiveAcrossInstances", func(t *testing.T) {
		a := NewRedisPipelineLock(rc, prefix)
		b := NewRedisPipelineLock(rc, prefix)

		ok, err := a.Acquire(ctx, RunLockKey(1), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.Acquire(ctx, RunLockKey(1), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, a.Release(ctx, RunLockKey(1)))
		ok, err = b.Acquire(ctx, RunLockKey(1), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, b.Release(ctx, RunLockKey(1)))
	})

	t.Run("ReleaseAfterExpiryKeepsNewHolder", func(t *testing.T) {
		a := NewRedisPipelineLock(rc, prefix)
		b := NewRedisPipelineLock(rc, prefix)

		ok, err := a.Acquire(ctx, RunLockKey(2), 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(100 * time.Millisecond)
		ok, err = b.Acquire(ctx, RunLockKey(2), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, a.Release(ctx, RunLockKey(2)))
		exists, err := rc.Exists(ctx, prefix+RunLockKey(2)).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)

		ok, err = a.Acquire(ctx, RunLockKey(2), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, b.Release(ctx, RunLockKey(2)))
	})

	t.Run("ReleaseWithoutAcquireIsNoop", func(t *testing.T) {
		a := NewRedisPipelineLock(rc, prefix)
		b := NewRedisPipelineLock(rc, prefix)

		ok, err := b.Acquire(ctx, FinalizeLockKey(3), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, a.Release(ctx, FinalizeLockKey(3)))
		exists, err := rc.Exists(ctx, prefix+FinalizeLockKey(3)).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
		require.NoError(t, b.Release(ctx, FinalizeLockKey(3)))
	})
}
