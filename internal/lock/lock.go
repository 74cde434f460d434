// Package lock provides per-call mutual exclusion for turn processing.
//
// A lock is scoped to (tenant, call id), held for the duration of one turn's
// critical section and bounded by a short TTL so a stuck handler can never
// block a call indefinitely. Two implementations exist: a Redis-backed lock
// for multi-instance deployments and an in-memory lock for single instances
// and tests.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/accueilvox/standardiste/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquirePollInterval is how often a blocked acquisition re-attempts before
// the caller's timeout elapses.
const acquirePollInterval = 50 * time.Millisecond

// Handle represents one held lock. Release must be called with the same
// handle that Acquire returned.
type Handle struct {
	key   string
	token string
}

// Locker serializes turns within a single call id.
type Locker interface {
	// Acquire blocks up to timeout for the (tenant, call) lock. On timeout it
	// returns models.ErrLockTimeout; the caller drops the turn with no
	// mutation and no reply.
	Acquire(ctx context.Context, tenantID, callID string, ttl, timeout time.Duration) (*Handle, error)

	// Release frees the lock if the handle still owns it. Releasing an
	// expired or stolen lock is a no-op.
	Release(ctx context.Context, h *Handle) error
}

func lockKey(tenantID, callID string) string {
	return "calllock:" + tenantID + ":" + callID
}

// releaseScript deletes the lock key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with Redis SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a Redis-backed locker. The connection is verified
// with a short ping; callers fall back to the memory locker on error.
func NewRedisLocker(addr, password string) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisLocker{client: client}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, tenantID, callID string, ttl, timeout time.Duration) (*Handle, error) {
	key := lockKey(tenantID, callID)
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			slog.Error("RedisLocker.Acquire: redis error", "error", err, "callID", callID)
			return nil, err
		}
		if ok {
			slog.Debug("RedisLocker.Acquire: lock acquired", "callID", callID)
			return &Handle{key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			slog.Warn("RedisLocker.Acquire: timeout, dropping turn", "callID", callID, "timeout", timeout)
			return nil, models.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release implements Locker via compare-and-delete so an expired lock taken
// over by another turn is never released by the old holder.
func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return models.ErrLockNotHeld
	}
	if err := releaseScript.Run(ctx, l.client, []string{h.key}, h.token).Err(); err != nil && err != redis.Nil {
		slog.Error("RedisLocker.Release: redis error", "error", err, "key", h.key)
		return err
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker implements Locker with an in-process map. Correct for a
// single instance; multi-instance deployments must configure Redis.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLockEntry)}
}

func (l *MemoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, held := l.locks[key]
	if held && time.Now().Before(entry.expiresAt) {
		return false
	}
	l.locks[key] = memoryLockEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return true
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, tenantID, callID string, ttl, timeout time.Duration) (*Handle, error) {
	key := lockKey(tenantID, callID)
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		if l.tryAcquire(key, token, ttl) {
			return &Handle{key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			slog.Warn("MemoryLocker.Acquire: timeout, dropping turn", "callID", callID, "timeout", timeout)
			return nil, models.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release implements Locker.
func (l *MemoryLocker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return models.ErrLockNotHeld
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, held := l.locks[h.key]; held && entry.token == h.token {
		delete(l.locks, h.key)
	}
	return nil
}
