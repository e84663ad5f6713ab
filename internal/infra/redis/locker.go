package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/indexing-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockTTL     = 30 * time.Second
	lockBackoffStep    = 5 * time.Millisecond
	lockBackoffMax     = 100 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker is a lock.Locker shared across processes. Each acquisition
// stores a random token so a holder whose TTL lapsed cannot release a lock
// taken over by someone else.
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*RedisLocker, error) {
	return newRedisLocker(client, ttl, logger, sleepWithContext)
}

func newRedisLocker(
	client *goredis.Client,
	ttl time.Duration,
	logger *zap.Logger,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
		sleep:  sleepFn,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	token := uuid.NewString()
	backoff := lockBackoffStep
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", lock.ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("failed to set lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%w: %v", lock.ErrNotAcquired, err)
		}

		backoff *= 2
		if backoff > lockBackoffMax {
			backoff = lockBackoffMax
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *RedisLocker) release(key, token string) {
	// The caller's context may already be done; release on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()

	err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		l.logger.Warn("failed to release lock",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
