package services

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPipelineLock(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryPipelineLock()

	ok, err := lock.Acquire(ctx, RunLockKey(1), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, RunLockKey(1), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = lock.Acquire(ctx, FinalizeLockKey(1), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx, RunLockKey(1)))
	ok, err = lock.Acquire(ctx, RunLockKey(1), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryPipelineLockExpires(t *testing.T) {
	lock := NewMemoryPipelineLock().(*memoryPipelineLock)
	now := time.Now()
	lock.nowFn = func() time.Time { return now }

	ok, _ := lock.Acquire(context.Background(), "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = lock.Acquire(context.Background(), "k", time.Second)
	assert.True(t, ok)
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "pipeline:run:12", RunLockKey(12))
	assert.Equal(t, "pipeline:finalize:12", FinalizeLockKey(12))
}

func TestStaticPostCallEvaluator(t *testing.T) {
	res, err := NewStaticPostCallEvaluator().Evaluate(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictPass, res.Verdict)
	assert.Equal(t, "Post-call analysis completed", res.Reason)
	assert.InDelta(t, 0.89, res.Confidence, 1e-9)
}
