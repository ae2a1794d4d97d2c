package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ============================================================================
// Per-card mutation lock
// ============================================================================
//
// Two redemptions of the same code arriving together:
//
//   without a lock: both read balance=50, both debit 40, one CAS wins and the
//                   other reloads; correct, but only thanks to the retry path
//   with a lock:    the second waits, then reads balance=10 and is rejected
//
// The version CAS in the repository is the correctness guarantee. The lock
// keeps contention off that path.
//
// Redis lock:
//   acquire: SET key token NX PX ttl
//   release: Lua compare-and-delete so an expired holder never deletes the
//            lock that a later holder now owns
//
// ============================================================================

var ErrLockFailed = errors.New("failed to acquire lock")

// Locker serializes work per key. The returned release func must be called
// exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// GiftCardKey is the lock key for balance mutations of one card.
func GiftCardKey(giftCardID int64) string {
	return fmt.Sprintf("giftcard:lock:%d", giftCardID)
}

// DistributedLock is a single Redis lock instance.
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Unlock deletes the key only if this instance still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// RedisLocker hands out DistributedLocks with a random owner token.
type RedisLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	retryInterval := 50 * time.Millisecond
	maxRetries := int(ttl / retryInterval)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), r.ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		// The request context may already be cancelled here.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Unlock(ctx)
	}, nil
}
