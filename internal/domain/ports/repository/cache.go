package repository

import (
	"context"
	"time"
)

// CacheBackend is a byte-oriented key/value store with per-key TTL.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Locker is a cross-process mutex keyed by string.
type Locker interface {
	// TryLock returns domain.ErrLockNotAcquired when the key is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter is a fixed-window counter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
