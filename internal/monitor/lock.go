package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes monitoring passes. TryLock never blocks: ok is false when
// another pass holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// InProcessLocker guards passes within one process.
type InProcessLocker struct {
	mu sync.Mutex
}

func (l *InProcessLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// DefaultLockKey is the Redis key guarding monitoring passes.
const DefaultLockKey = "lifecycle:monitor:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes passes across processes sharing a Redis instance.
// The lock expires after ttl so a crashed holder cannot wedge the loop.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker on key; an empty key uses DefaultLockKey.
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, logger: logger.Named("monitor_lock")}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// The pass context may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, l.client, []string{l.key}, token).Int()
		switch {
		case err != nil:
			l.logger.Warn("lock_release_failed",
				zap.String("key", l.key),
				zap.Duration("ttl", l.ttl),
				zap.Error(err),
			)
		case n == 0:
			l.logger.Warn("lock_expired_before_release", zap.String("key", l.key))
		}
	}
	return release, true, nil
}
