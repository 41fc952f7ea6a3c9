package query

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/audit-query/models"
	"go.uber.org/zap"
)

// RedisCursorCache shares memoized cursors between service instances.
// Redis failures are logged and reported as misses.
type RedisCursorCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCursorCache creates a cache storing "created_at:id" strings under prefix
func NewRedisCursorCache(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCursorCache {
	return &RedisCursorCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the memoized cursor for key
func (c *RedisCursorCache) Get(ctx context.Context, key CursorKey) (models.Cursor, bool) {
	val, err := c.client.Get(ctx, c.prefix+key.String()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cursor cache read failed", zap.String("key", key.String()), zap.Error(err))
		}
		c.misses.Add(1)
		return models.Cursor{}, false
	}

	cursor, err := models.ParseCursor(val)
	if err != nil {
		c.logger.Warn("discarding malformed cached cursor", zap.String("key", key.String()), zap.Error(err))
		c.misses.Add(1)
		return models.Cursor{}, false
	}

	c.hits.Add(1)
	return cursor, true
}

// Set stores the cursor with the configured TTL
func (c *RedisCursorCache) Set(ctx context.Context, key CursorKey, cursor models.Cursor) {
	if err := c.client.Set(ctx, c.prefix+key.String(), cursor.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("cursor cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// Stats returns hit/miss counters; size is not tracked for a shared cache
func (c *RedisCursorCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return CacheStats{
		Backend: "redis",
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Ping checks connectivity to Redis
func (c *RedisCursorCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
