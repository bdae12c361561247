package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PipelineLock guards per-advertisement work so a single worker drives a pipeline
type PipelineLock interface {
	// Acquire returns false without error when another holder owns the key
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RunLockKey guards the orchestration run of one advertisement
func RunLockKey(advertisementID uint) string {
	return fmt.Sprintf("pipeline:run:%d", advertisementID)
}

// FinalizeLockKey guards report finalisation of one advertisement
func FinalizeLockKey(advertisementID uint) string {
	return fmt.Sprintf("pipeline:finalize:%d", advertisementID)
}

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisPipelineLock struct {
	rc     *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisPipelineLock builds a SETNX based lock shared across instances.
// Each acquire stores a fresh token so a holder whose TTL lapsed cannot
// release a lock someone else took since.
func NewRedisPipelineLock(rc *redis.Client, prefix string) PipelineLock {
	return &redisPipelineLock{rc: rc, prefix: prefix, tokens: make(map[string]string)}
}

func (l *redisPipelineLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("pipeline lock %s: %w", key, err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *redisPipelineLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !held {
		return nil
	}

	if err := releaseScript.Run(ctx, l.rc, []string{l.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("pipeline unlock %s: %w", key, err)
	}
	return nil
}

type memoryPipelineLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewMemoryPipelineLock builds a process-local lock
func NewMemoryPipelineLock() PipelineLock {
	return &memoryPipelineLock{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *memoryPipelineLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *memoryPipelineLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	return nil
}
