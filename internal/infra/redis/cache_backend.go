package redis

import (
	"context"
	"errors"
	"time"

	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.CacheBackend = (*CacheBackend)(nil)

// CacheBackend stores result-cache entries with native Redis expiry.
type CacheBackend struct {
	client RedisClient
}

func NewCacheBackend(client RedisClient) *CacheBackend {
	return &CacheBackend{client: client}
}

func (c *CacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key)
	if errors.Is(err, Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (c *CacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl)
}

func (c *CacheBackend) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key)
}
