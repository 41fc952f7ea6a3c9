package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
)

// batchKey carries the open write batch through a context
type batchKey struct{}

// TransactionManager groups audit event inserts into atomic write batches.
// Reads never go through it; the query path uses leased handles.
type TransactionManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a TransactionManager over db
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		logger: logger,
	}
}

// Begin opens a write batch
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin write batch: %v", repositories.ErrStoreUnavailable, err)
	}
	return &Transaction{tx: tx, started: time.Now(), logger: tm.logger}, nil
}

// InTransaction runs fn inside one write batch. The batch commits when fn
// returns nil and rolls back otherwise, so no partial batch is ever visible.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, batchKey{}, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to roll back write batch",
				zap.Error(rbErr),
				zap.NamedError("batch_error", err),
			)
		}
		return err
	}
	return tx.Commit()
}

// Transaction is one open write batch
type Transaction struct {
	tx      *sql.Tx
	started time.Time
	logger  *zap.Logger
}

// Executor runs statements inside the batch
func (t *Transaction) Executor() repositories.Executor {
	return t.tx
}

// Commit makes the batch visible to readers
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write batch: %w", err)
	}
	t.logger.Debug("write batch committed", zap.Duration("duration", time.Since(t.started)))
	return nil
}

// Rollback discards the batch; a batch that already finished is left alone
func (t *Transaction) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("failed to roll back write batch: %w", err)
}

// GetExecutor returns the write batch carried by ctx, or the pool itself
func GetExecutor(ctx context.Context, db *DB) repositories.Executor {
	if tx, ok := ctx.Value(batchKey{}).(*Transaction); ok {
		return tx.tx
	}
	return db.DB
}
