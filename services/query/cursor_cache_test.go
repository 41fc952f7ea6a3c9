package query

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/models"
	"go.uber.org/zap"
)

func testKey(page int) CursorKey {
	q := models.Query{FromTS: 10, ToTS: 20, Action: strPtr("UPDATE"), PageSize: 25}
	return NewCursorKey(q, page)
}

func TestCursorKey_String(t *testing.T) {
	assert.Equal(t, `10:20:*:"UPDATE"|25|3`, testKey(3).String())

	other := NewCursorKey(models.Query{FromTS: 10, ToTS: 20, ActorID: int64Ptr(7), PageSize: 25}, 3)
	assert.NotEqual(t, testKey(3).String(), other.String())
}

func TestMemoryCursorCache_GetSet(t *testing.T) {
	cache := NewMemoryCursorCache(10, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, testKey(2))
	assert.False(t, ok)

	cache.Set(ctx, testKey(2), models.Cursor{CreatedAt: 15, ID: 4})
	c, ok := cache.Get(ctx, testKey(2))
	require.True(t, ok)
	assert.Equal(t, models.Cursor{CreatedAt: 15, ID: 4}, c)

	// Overwrite keeps a single entry
	cache.Set(ctx, testKey(2), models.Cursor{CreatedAt: 15, ID: 3})
	c, _ = cache.Get(ctx, testKey(2))
	assert.Equal(t, int64(3), c.ID)

	stats := cache.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.0001)
}

func TestMemoryCursorCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewMemoryCursorCache(2, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, testKey(2), models.Cursor{ID: 2})
	cache.Set(ctx, testKey(3), models.Cursor{ID: 3})
	_, _ = cache.Get(ctx, testKey(2)) // page 3 is now the oldest
	cache.Set(ctx, testKey(4), models.Cursor{ID: 4})

	_, ok := cache.Get(ctx, testKey(3))
	assert.False(t, ok)
	_, ok = cache.Get(ctx, testKey(2))
	assert.True(t, ok)
	_, ok = cache.Get(ctx, testKey(4))
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Stats().Size)
}

func TestMemoryCursorCache_Expiry(t *testing.T) {
	cache := NewMemoryCursorCache(10, 20*time.Millisecond)
	ctx := context.Background()

	cache.Set(ctx, testKey(2), models.Cursor{ID: 2})
	cache.Set(ctx, testKey(3), models.Cursor{ID: 3})
	time.Sleep(40 * time.Millisecond)

	_, ok := cache.Get(ctx, testKey(2))
	assert.False(t, ok)
	assert.Equal(t, 1, cache.CleanupExpired())
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestMemoryCursorCache_CleanupWorker(t *testing.T) {
	cache := NewMemoryCursorCache(10, 5*time.Millisecond)
	cache.Set(context.Background(), testKey(2), models.Cursor{ID: 2})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		cache.StartCleanupWorker(5*time.Millisecond, stop)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cache.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done
}

func TestMemoryCursorCache_Clear(t *testing.T) {
	cache := NewMemoryCursorCache(10, 0)
	cache.Set(context.Background(), testKey(2), models.Cursor{ID: 2})
	cache.Clear()
	_, ok := cache.Get(context.Background(), testKey(2))
	assert.False(t, ok)
}

func TestNoopCursorCache(t *testing.T) {
	var cache NoopCursorCache
	cache.Set(context.Background(), testKey(2), models.Cursor{ID: 2})
	_, ok := cache.Get(context.Background(), testKey(2))
	assert.False(t, ok)
	assert.Equal(t, "none", cache.Stats().Backend)
}

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisCursorCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCursorCache(client, "auditq:cursor:", ttl, zap.NewNop()), mr
}

func TestRedisCursorCache_GetSet(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))

	_, ok := cache.Get(ctx, testKey(2))
	assert.False(t, ok)

	cache.Set(ctx, testKey(2), models.Cursor{CreatedAt: 1700000000, ID: 42})
	c, ok := cache.Get(ctx, testKey(2))
	require.True(t, ok)
	assert.Equal(t, models.Cursor{CreatedAt: 1700000000, ID: 42}, c)

	stored, err := mr.Get("auditq:cursor:" + testKey(2).String())
	require.NoError(t, err)
	assert.Equal(t, "1700000000:42", stored)
	assert.Equal(t, time.Minute, mr.TTL("auditq:cursor:"+testKey(2).String()))

	stats := cache.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCursorCache_Expiry(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, testKey(3), models.Cursor{CreatedAt: 5, ID: 1})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, testKey(3))
	assert.False(t, ok)
}

func TestRedisCursorCache_MalformedValue(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	require.NoError(t, mr.Set("auditq:cursor:"+testKey(2).String(), "not-a-cursor"))

	_, ok := cache.Get(context.Background(), testKey(2))
	assert.False(t, ok)
	assert.Equal(t, uint64(1), cache.Stats().Misses)
}

func TestRedisCursorCache_Unreachable(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Failures degrade to misses
	cache.Set(ctx, testKey(2), models.Cursor{ID: 1})
	_, ok := cache.Get(ctx, testKey(2))
	assert.False(t, ok)
	assert.Error(t, cache.Ping(ctx))
}
