package mpesa

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenCache shares gateway tokens across service replicas.
type RedisTokenCache struct {
	rdb *redis.Client
}

func NewRedisTokenCache(rdb *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	tok, err := c.rdb.Get(ctx, key).Result()
	if err != nil || tok == "" {
		return "", false
	}
	return tok, true
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	_ = c.rdb.Set(ctx, key, token, ttl).Err()
}
