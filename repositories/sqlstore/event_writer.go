package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
)

// EventWriter appends audit_events rows for the seeding tools
type EventWriter struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewEventWriter creates a new event writer
func NewEventWriter(db *DB, logger *zap.Logger) repositories.EventWriter {
	return &EventWriter{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// InsertBatch inserts events in one transaction and sets their IDs
func (w *EventWriter) InsertBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 7)
	for i := range placeholders {
		placeholders[i] = w.db.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf(`
		INSERT INTO audit_events (
			created_at, actor_id, action, resource_type, resource_id, payload_offset, payload_len
		) VALUES (%s)
	`, strings.Join(placeholders, ", "))
	if w.db.dialect.numbered {
		query += " RETURNING id"
	}

	err := w.txm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		executor := tx.Executor()
		for _, event := range events {
			args := []interface{}{
				event.CreatedAt,
				event.ActorID,
				event.Action,
				event.ResourceType,
				event.ResourceID,
				event.PayloadOffset,
				event.PayloadLen,
			}

			// lib/pq does not implement LastInsertId
			if w.db.dialect.numbered {
				if err := executor.QueryRowContext(ctx, query, args...).Scan(&event.ID); err != nil {
					return fmt.Errorf("failed to insert audit event: %w", err)
				}
				continue
			}

			result, err := executor.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to insert audit event: %w", err)
			}
			id, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read audit event id: %w", err)
			}
			event.ID = id
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.logger.Debug("audit event batch inserted", zap.Int("rows", len(events)))
	return nil
}

// Total returns the number of rows in audit_events
func (w *EventWriter) Total(ctx context.Context) (int, error) {
	var total int
	if err := GetExecutor(ctx, w.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return total, nil
}
