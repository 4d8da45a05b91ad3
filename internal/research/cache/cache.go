// Package cache implements the content-addressed result cache (C2) fronting
// search, scrape, and summarize calls: Redis-backed, fail-open, TTL'd.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"deepresearch/internal/config"
)

// Cache is a string-keyed TTL store fronting idempotent-by-input calls.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New builds a Cache from configuration. client may be nil, in which case
// every Get is a miss and every Set is a no-op (equivalent to fail-open).
func New(cfg config.CacheConfig, client redis.UniversalClient) *Cache {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Key derives a stable cache key from prefix and args: a canonical JSON
// serialization (struct field order, sorted map keys — both of which
// encoding/json already guarantees) hashed with sha256. Type-sensitive:
// json distinguishes "1" (string) from 1 (number) by construction.
func Key(prefix string, args any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

// GetOrSet returns the cached value for key if present, otherwise calls fn,
// writes its result through to the cache, and returns it. Store errors
// disable caching for this call only (fail-open): fn still runs and its
// result is still returned, just not persisted.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, fn func() (T, error)) (T, error) {
	var zero T
	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached T
			if uerr := json.Unmarshal(raw, &cached); uerr == nil {
				return cached, nil
			}
			log.Warn().Err(err).Str("key", key).Msg("cache_decode_failed_recomputing")
		case err == redis.Nil:
			// miss, fall through to compute
		default:
			log.Warn().Err(err).Str("key", key).Msg("cache_store_unreachable_fail_open")
		}
	}

	val, err := fn()
	if err != nil {
		return zero, err
	}

	if c.client != nil {
		if b, merr := json.Marshal(val); merr == nil {
			if serr := c.client.Set(ctx, key, b, c.ttl).Err(); serr != nil {
				log.Warn().Err(serr).Str("key", key).Msg("cache_write_through_failed")
			}
		}
	}
	return val, nil
}
