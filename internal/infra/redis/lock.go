// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	client RedisClient
	tries  int
	wait   time.Duration
}

// NewLocker makes a single SETNX attempt per TryLock; WithRetry adds more.
func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{client: c, tries: 1, wait: 50 * time.Millisecond}
}

func (l *RedisLocker) WithRetry(tries int, wait time.Duration) *RedisLocker {
	if tries > 0 {
		l.tries = tries
	}
	l.wait = wait
	return l
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.wait):
			}
		}
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return token, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock releases key only if it still holds token.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.client.RunScript(ctx, luaUnlock, []string{key}, token)
	return err
}
