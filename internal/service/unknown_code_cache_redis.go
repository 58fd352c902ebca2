package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUnknownCodeCache shares unknown-code entries across replicas; redis
// expiry does the cleanup.
type RedisUnknownCodeCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUnknownCodeCache(client redis.UniversalClient, prefix string) *RedisUnknownCodeCache {
	if prefix == "" {
		prefix = "unknown_code"
	}
	return &RedisUnknownCodeCache{client: client, prefix: prefix}
}

func (c *RedisUnknownCodeCache) IsUnknown(ctx context.Context, code string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(code)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisUnknownCodeCache) MarkUnknown(ctx context.Context, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(code), "1", ttl).Err()
}

func (c *RedisUnknownCodeCache) Forget(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}

func (c *RedisUnknownCodeCache) key(code string) string {
	return c.prefix + ":code:" + hashToken(code)
}
