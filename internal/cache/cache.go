// Package cache is the Redis-backed LLM cache for query expansion and
// rerank results, keyed by cache_kind + cache_key with a TTL and a hit
// counter, per the search pipeline's expansion-cache and rerank-cache
// steps. A cache read/write failure is never fatal to a search request:
// callers treat an error from Get the same as a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"elfmemory/internal/config"
)

// Kind distinguishes the two cached artifact types sharing this store.
type Kind string

const (
	KindExpansion Kind = "expansion"
	KindRerank    Kind = "rerank"
)

// Cache wraps a Redis client with the expansion/rerank key scheme.
type Cache struct {
	client redis.UniversalClient
}

// New connects to Redis and verifies reachability with Ping.
func New(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

func key(kind Kind, cacheKey string) string {
	return "elf:" + string(kind) + ":" + cacheKey
}

func hitKey(kind Kind, cacheKey string) string {
	return "elf:" + string(kind) + ":" + cacheKey + ":hits"
}

// Get reads a cached payload. A missing key or any Redis error is reported
// as (nil, false, nil) — a soft miss — so callers never need to
// special-case cache unavailability.
func (c *Cache) Get(ctx context.Context, kind Kind, cacheKey string) (json.RawMessage, bool) {
	val, err := c.client.Get(ctx, key(kind, cacheKey)).Bytes()
	if err != nil {
		return nil, false
	}
	c.client.Incr(ctx, hitKey(kind, cacheKey))
	return val, true
}

// Set writes a payload with a TTL. Errors are returned so callers can log
// them, but a Set failure never blocks the result it's caching from being
// returned to the client.
func (c *Cache) Set(ctx context.Context, kind Kind, cacheKey string, payload json.RawMessage, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key(kind, cacheKey), []byte(payload), ttl)
	pipe.SetNX(ctx, hitKey(kind, cacheKey), 0, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// HitCount returns the observed hit count for a cache key, for
// observability/debugging; 0 on any error or unknown key.
func (c *Cache) HitCount(ctx context.Context, kind Kind, cacheKey string) int64 {
	n, err := c.client.Get(ctx, hitKey(kind, cacheKey)).Int64()
	if err != nil {
		return 0
	}
	return n
}
