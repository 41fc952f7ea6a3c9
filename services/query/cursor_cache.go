package query

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/upb/audit-query/models"
)

// CursorKey identifies a memoized cursor: the anchor for Page under a filter
// and page size.
type CursorKey struct {
	Filter   string
	PageSize int
	Page     int
}

// NewCursorKey builds the key for page of q's filter and page size
func NewCursorKey(q models.Query, page int) CursorKey {
	return CursorKey{
		Filter:   q.Filter().Key(),
		PageSize: q.PageSize,
		Page:     page,
	}
}

// String returns a string representation of the cache key
func (k CursorKey) String() string {
	return k.Filter + "|" + strconv.Itoa(k.PageSize) + "|" + strconv.Itoa(k.Page)
}

// CursorCache memoizes resolved cursors. A miss is never an error; the
// resolver falls back to locating the anchor in the index.
type CursorCache interface {
	Get(ctx context.Context, key CursorKey) (models.Cursor, bool)
	Set(ctx context.Context, key CursorKey, cursor models.Cursor)
	Stats() CacheStats
}

// CacheStats represents cache statistics
type CacheStats struct {
	Backend string  `json:"backend"`
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	cursor     models.Cursor
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.insertedAt) > ttl
}

// MemoryCursorCache is an in-process LRU cache with TTL
type MemoryCursorCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry // Key: CursorKey.String()
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewMemoryCursorCache creates a new cache with the given max size and TTL
func NewMemoryCursorCache(maxSize int, ttl time.Duration) *MemoryCursorCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &MemoryCursorCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cursor for key if present and not expired
func (c *MemoryCursorCache) Get(_ context.Context, key CursorKey) (models.Cursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return models.Cursor{}, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.cursor, true
}

// Set stores a cursor, evicting the least recently used entry when full
func (c *MemoryCursorCache) Set(_ context.Context, key CursorKey, cursor models.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	if entry, exists := c.entries[keyStr]; exists {
		entry.cursor = cursor
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		cursor:     cursor,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Clear removes all entries from the cache
func (c *MemoryCursorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *MemoryCursorCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Backend: "memory",
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate(c.hits, c.misses),
	}
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *MemoryCursorCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expired = append(expired, keyStr)
		}
	}
	for _, keyStr := range expired {
		c.removeEntry(keyStr)
	}
	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (c *MemoryCursorCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// removeEntry must be called with the lock held
func (c *MemoryCursorCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU must be called with the lock held
func (c *MemoryCursorCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	keyStr := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, keyStr)
}

// NoopCursorCache disables memoization
type NoopCursorCache struct{}

func (NoopCursorCache) Get(context.Context, CursorKey) (models.Cursor, bool) {
	return models.Cursor{}, false
}

func (NoopCursorCache) Set(context.Context, CursorKey, models.Cursor) {}

func (NoopCursorCache) Stats() CacheStats {
	return CacheStats{Backend: "none"}
}
