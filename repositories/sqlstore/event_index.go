package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
)

const eventColumns = `id, created_at, actor_id, action, resource_type, resource_id, payload_offset, payload_len`

const sortOrder = `ORDER BY created_at DESC, id DESC`

// EventIndex implements repositories.EventIndex over the audit_events table
type EventIndex struct {
	dialect Dialect
	logger  *zap.Logger
}

// NewEventIndex creates a new event index for the given dialect
func NewEventIndex(dialect Dialect, logger *zap.Logger) repositories.EventIndex {
	return &EventIndex{
		dialect: dialect,
		logger:  logger,
	}
}

// QueryWindow returns up to limit rows strictly after the cursor in sort order
func (r *EventIndex) QueryWindow(ctx context.Context, exec repositories.Executor, filter models.Filter, after *models.Cursor, limit int) ([]*models.AuditEvent, error) {
	b := r.where(filter, after)
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		%s
		%s
		LIMIT %s
	`, eventColumns, b.clause(), sortOrder, b.bind(limit))

	return r.queryEvents(ctx, exec, query, b.args...)
}

// CursorAt returns the sort key skip rows past the cursor, or nil when the
// filtered set ends first
func (r *EventIndex) CursorAt(ctx context.Context, exec repositories.Executor, filter models.Filter, after *models.Cursor, skip int) (*models.Cursor, error) {
	b := r.where(filter, after)
	query := fmt.Sprintf(`
		SELECT created_at, id
		FROM audit_events
		%s
		%s
		LIMIT 1 OFFSET %s
	`, b.clause(), sortOrder, b.bind(skip))

	cursor := &models.Cursor{}
	err := exec.QueryRowContext(ctx, query, b.args...).Scan(&cursor.CreatedAt, &cursor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError("failed to resolve cursor", err)
	}

	return cursor, nil
}

// NaiveWindow is the LIMIT/OFFSET query keyset pagination must agree with
func (r *EventIndex) NaiveWindow(ctx context.Context, exec repositories.Executor, filter models.Filter, limit, offset int) ([]*models.AuditEvent, error) {
	b := r.where(filter, nil)
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		%s
		%s
		LIMIT %s OFFSET %s
	`, eventColumns, b.clause(), sortOrder, b.bind(limit), b.bind(offset))

	return r.queryEvents(ctx, exec, query, b.args...)
}

// Count returns the number of rows matching the filter
func (r *EventIndex) Count(ctx context.Context, exec repositories.Executor, filter models.Filter) (int, error) {
	b := r.where(filter, nil)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM audit_events %s`, b.clause())

	var count int
	if err := exec.QueryRowContext(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, storeError("failed to count audit events", err)
	}
	return count, nil
}

// where builds the predicate shared by every read: the inclusive time range,
// the optional equality filters and the keyset bound.
func (r *EventIndex) where(filter models.Filter, after *models.Cursor) *queryBuilder {
	b := &queryBuilder{dialect: r.dialect}
	b.add("created_at >= %s", filter.FromTS)
	b.add("created_at <= %s", filter.ToTS)
	if filter.ActorID != nil {
		b.add("actor_id = %s", *filter.ActorID)
	}
	if filter.Action != nil {
		b.add("action = %s", *filter.Action)
	}
	if after != nil {
		b.add("(created_at, id) < (%s, %s)", after.CreatedAt, after.ID)
	}
	return b
}

// queryEvents is a helper method to query multiple audit events
func (r *EventIndex) queryEvents(ctx context.Context, exec repositories.Executor, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("failed to query audit events", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		err := rows.Scan(
			&event.ID,
			&event.CreatedAt,
			&event.ActorID,
			&event.Action,
			&event.ResourceType,
			&event.ResourceID,
			&event.PayloadOffset,
			&event.PayloadLen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("error iterating audit event rows", err)
	}

	return events, nil
}

// queryBuilder accumulates WHERE conditions and their bind arguments
type queryBuilder struct {
	dialect Dialect
	conds   []string
	args    []interface{}
}

// bind appends an argument and returns its placeholder
func (b *queryBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// add appends a condition; each %s in format is replaced by a placeholder for the next value
func (b *queryBuilder) add(format string, values ...interface{}) {
	placeholders := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}
	b.conds = append(b.conds, fmt.Sprintf(format, placeholders...))
}

func (b *queryBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.conds, " AND ")
}

// storeError marks lost connections as store unavailability
func storeError(msg string, err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", msg, repositories.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
