package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/upb/audit-query/models"
)

var (
	// ErrStoreUnavailable is returned when the metadata store cannot be opened or reached
	ErrStoreUnavailable = errors.New("metadata store unavailable")

	// ErrDataCorruption is returned when a metadata row points at an invalid payload range
	ErrDataCorruption = errors.New("payload data corruption")

	// ErrHandleInUse is returned when a handle is acquired while another lease is still open
	ErrHandleInUse = errors.New("handle already leased")

	// ErrPoolClosed is returned by Acquire after the pool has been closed
	ErrPoolClosed = errors.New("handle pool closed")
)

// TransactionManager groups event inserts into atomic write batches
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction commits when fn returns nil and rolls back otherwise
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction is an open write batch
type Transaction interface {
	Executor() Executor
	Commit() error
	Rollback() error
}

// Executor is an interface that can execute queries (*sql.DB, *sql.Conn and *sql.Tx)
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// WorkerID identifies a long-lived query worker goroutine
type WorkerID int

// Handle is an exclusively leased connection to the metadata store.
// A handle belongs to one worker and is never used by two goroutines at once.
type Handle interface {
	Executor

	// ID returns the handle instance identifier
	ID() string

	// Worker returns the worker the handle is bound to
	Worker() WorkerID
}

// HandlePool lends one persistent handle per worker
type HandlePool interface {
	// Acquire returns the worker's handle, opening it on first use
	Acquire(ctx context.Context, worker WorkerID) (Handle, error)

	// Release returns a leased handle to the pool
	Release(h Handle)

	// Discard closes a broken handle; the worker's next Acquire opens a new one
	Discard(h Handle)

	// Size returns the number of handles opened so far
	Size() int

	// Close closes every handle
	Close() error
}

// EventIndex queries the audit_events metadata table.
// All results are ordered by (created_at DESC, id DESC).
type EventIndex interface {
	// QueryWindow returns up to limit rows matching the filter that sort strictly after the cursor
	QueryWindow(ctx context.Context, exec Executor, filter models.Filter, after *models.Cursor, limit int) ([]*models.AuditEvent, error)

	// CursorAt returns the sort key of the row skip positions past the cursor
	// (or past the start when after is nil); nil when no such row exists
	CursorAt(ctx context.Context, exec Executor, filter models.Filter, after *models.Cursor, skip int) (*models.Cursor, error)

	// NaiveWindow is the LIMIT/OFFSET reference query
	NaiveWindow(ctx context.Context, exec Executor, filter models.Filter, limit, offset int) ([]*models.AuditEvent, error)

	// Count returns the number of rows matching the filter
	Count(ctx context.Context, exec Executor, filter models.Filter) (int, error)
}

// EventWriter appends metadata rows. Only the seeding tools write.
type EventWriter interface {
	// InsertBatch inserts rows in a single transaction and assigns their IDs
	InsertBatch(ctx context.Context, events []*models.AuditEvent) error

	// Total returns the number of rows in the table
	Total(ctx context.Context) (int, error)
}

// PayloadReader resolves (offset, length) pairs in the payload blob file
type PayloadReader interface {
	// Read decodes the JSON document stored at [offset, offset+length)
	Read(offset, length int64) (any, error)

	// Size returns the blob file length in bytes
	Size() int64

	// Close releases the underlying file or mapping
	Close() error
}

// Repositories holds the repository instances built by a store factory
type Repositories struct {
	Events EventIndex
	Writer EventWriter
}
