// Package enrich augments normalized items before persistence: company
// resolution, merchant URL resolution behind aggregator redirect links,
// and product image discovery. Its scraping heuristics are isolated
// behind small interfaces so they never leak into pipeline control flow.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long resolved URLs and discovered images are
// reused before re-resolution.
const cacheTTL = 24 * time.Hour

// Cache stores expensive enrichment results keyed by canonical URL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// RedisCache implements Cache on Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed enrichment cache.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns the cached value and whether it was present. Redis errors
// are treated as cache misses; enrichment must work without the cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

// Set stores a value with the enrichment TTL, best-effort.
func (c *RedisCache) Set(ctx context.Context, key, value string) {
	c.client.Set(ctx, c.prefix+key, value, cacheTTL)
}

// Ping verifies Redis reachability for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// NopCache is used when Redis is disabled.
type NopCache struct{}

// Get always misses.
func (NopCache) Get(context.Context, string) (string, bool) { return "", false }

// Set discards the value.
func (NopCache) Set(context.Context, string, string) {}

// ErrCacheDisabled is reported by health checks when no cache backend
// is configured.
var ErrCacheDisabled = errors.New("enrichment cache disabled")
