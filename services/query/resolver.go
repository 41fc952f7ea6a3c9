package query

import (
	"context"
	"fmt"

	"github.com/upb/audit-query/internal/observability"
	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
)

// CursorResolver maps (filter, page, page_size) to the keyset anchor of a page
type CursorResolver struct {
	index   repositories.EventIndex
	cache   CursorCache
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCursorResolver creates a resolver; a nil cache disables memoization
func NewCursorResolver(index repositories.EventIndex, cache CursorCache, metrics *observability.Metrics, logger *zap.Logger) *CursorResolver {
	if cache == nil {
		cache = NoopCursorCache{}
	}
	return &CursorResolver{
		index:   index,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve returns the cursor for q.Page. Page 1 has no cursor. empty is true
// when the filtered set has too few rows for the page to exist.
func (r *CursorResolver) Resolve(ctx context.Context, exec repositories.Executor, q models.Query) (cursor *models.Cursor, empty bool, err error) {
	if q.Page <= 1 {
		return nil, false, nil
	}

	if c, ok := r.lookup(ctx, NewCursorKey(q, q.Page)); ok {
		return &c, false, nil
	}

	filter := q.Filter()
	var found *models.Cursor

	// The anchor of page k is page_size rows past the anchor of page k-1.
	prev, ok := models.Cursor{}, false
	if q.Page > 2 {
		prev, ok = r.lookup(ctx, NewCursorKey(q, q.Page-1))
	}
	if ok {
		found, err = r.index.CursorAt(ctx, exec, filter, &prev, q.PageSize-1)
	} else {
		found, err = r.index.CursorAt(ctx, exec, filter, nil, q.Offset()-1)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve cursor for page %d: %w", q.Page, err)
	}
	if found == nil {
		return nil, true, nil
	}

	r.cache.Set(ctx, NewCursorKey(q, q.Page), *found)
	return found, false, nil
}

// Remember stores the last row of a full page as the anchor of the next page
func (r *CursorResolver) Remember(ctx context.Context, q models.Query, last *models.AuditEvent) {
	r.cache.Set(ctx, NewCursorKey(q, q.Page+1), last.SortKey())
}

// Stats returns the underlying cache statistics
func (r *CursorResolver) Stats() CacheStats {
	return r.cache.Stats()
}

func (r *CursorResolver) lookup(ctx context.Context, key CursorKey) (models.Cursor, bool) {
	c, ok := r.cache.Get(ctx, key)
	if r.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		r.metrics.CursorCacheLookups.WithLabelValues(result).Inc()
	}
	if ok {
		r.logger.Debug("cursor cache hit", zap.String("key", key.String()), zap.String("cursor", c.String()))
	}
	return c, ok
}
