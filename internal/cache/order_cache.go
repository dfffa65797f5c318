// Package cache provides the read-through order cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/order-payments/internal/model"
)

// OrderCache caches single order documents by id. A miss or a broken entry
// is reported as (nil, false); callers fall back to the store.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*model.Order, bool)
	Set(ctx context.Context, order *model.Order)
	Invalidate(ctx context.Context, orderID string)
}

// RedisOrderCache stores orders as JSON blobs with a fixed TTL.
type RedisOrderCache struct {
	rdb *redis.Client
	ttl time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisOrderCache builds a cache on top of rdb. ttl <= 0 falls back to five minutes.
func NewRedisOrderCache(rdb *redis.Client, ttl time.Duration) *RedisOrderCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisOrderCache{rdb: rdb, ttl: ttl}
}

func orderKey(id string) string { return fmt.Sprintf("order:%s", id) }

func (c *RedisOrderCache) Get(ctx context.Context, orderID string) (*model.Order, bool) {
	data, err := c.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		c.misses.Add(1)
		_ = c.rdb.Del(ctx, orderKey(orderID)).Err()
		return nil, false
	}
	c.hits.Add(1)
	return &o, true
}

func (c *RedisOrderCache) Set(ctx context.Context, order *model.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, orderKey(order.ID), payload, c.ttl).Err()
}

func (c *RedisOrderCache) Invalidate(ctx context.Context, orderID string) {
	_ = c.rdb.Del(ctx, orderKey(orderID)).Err()
}

// Stats reports cache hits and misses since start.
func (c *RedisOrderCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Nop is used when redis is disabled.
type Nop struct{}

func (Nop) Get(context.Context, string) (*model.Order, bool) { return nil, false }
func (Nop) Set(context.Context, *model.Order)                 {}
func (Nop) Invalidate(context.Context, string)                {}
