package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
)

// handle is a dedicated connection bound to one worker
type handle struct {
	*sql.Conn
	id     string
	worker repositories.WorkerID
	leased atomic.Bool
}

func (h *handle) ID() string                    { return h.id }
func (h *handle) Worker() repositories.WorkerID { return h.worker }

// opening tracks a first open in progress for one worker
type opening struct {
	done chan struct{}
	h    *handle
	err  error
}

// HandlePool keeps one dedicated connection per worker.
//
// Lookups go through a sync.Map and never lock. The mutex only guards the
// table of opens in progress; the connection itself is opened outside it, so
// a worker waiting on the store's connection limit never stalls another
// worker's first Acquire.
type HandlePool struct {
	db      *DB
	logger  *zap.Logger
	handles sync.Map // repositories.WorkerID -> *handle
	mu      sync.Mutex
	opening map[repositories.WorkerID]*opening
	size    atomic.Int64
	closed  atomic.Bool
}

// NewHandlePool creates an empty pool; handles are opened lazily
func NewHandlePool(db *DB, logger *zap.Logger) *HandlePool {
	return &HandlePool{
		db:      db,
		logger:  logger,
		opening: make(map[repositories.WorkerID]*opening),
	}
}

// Acquire returns the worker's handle, opening it on the worker's first call.
// Waiting for a connection honors ctx.
func (p *HandlePool) Acquire(ctx context.Context, worker repositories.WorkerID) (repositories.Handle, error) {
	if p.closed.Load() {
		return nil, repositories.ErrPoolClosed
	}

	if v, ok := p.handles.Load(worker); ok {
		return lease(v.(*handle))
	}

	h, err := p.open(ctx, worker)
	if err != nil {
		return nil, err
	}
	return lease(h)
}

func (p *HandlePool) open(ctx context.Context, worker repositories.WorkerID) (*handle, error) {
	p.mu.Lock()
	if v, ok := p.handles.Load(worker); ok {
		p.mu.Unlock()
		return v.(*handle), nil
	}
	if p.closed.Load() {
		p.mu.Unlock()
		return nil, repositories.ErrPoolClosed
	}
	op, pending := p.opening[worker]
	if !pending {
		op = &opening{done: make(chan struct{})}
		p.opening[worker] = op
	}
	p.mu.Unlock()

	if pending {
		select {
		case <-op.done:
			return op.h, op.err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for worker %d handle: %w", repositories.ErrStoreUnavailable, worker, ctx.Err())
		}
	}

	op.h, op.err = p.connect(ctx, worker)
	close(op.done)
	return op.h, op.err
}

// connect opens the worker's connection and publishes it
func (p *HandlePool) connect(ctx context.Context, worker repositories.WorkerID) (*handle, error) {
	conn, err := p.db.Conn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.opening, worker)

	if err != nil {
		return nil, fmt.Errorf("%w: failed to open handle for worker %d: %w", repositories.ErrStoreUnavailable, worker, err)
	}
	if p.closed.Load() {
		_ = conn.Close()
		return nil, repositories.ErrPoolClosed
	}

	h := &handle{
		Conn:   conn,
		id:     uuid.NewString(),
		worker: worker,
	}
	p.handles.Store(worker, h)
	size := p.size.Add(1)

	p.logger.Debug("opened store handle",
		zap.Int("worker", int(worker)),
		zap.String("handle_id", h.id),
		zap.Int64("pool_size", size),
	)
	return h, nil
}

func lease(h *handle) (repositories.Handle, error) {
	if !h.leased.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: worker %d handle %s", repositories.ErrHandleInUse, h.worker, h.id)
	}
	return h, nil
}

// Release ends the current lease. The handle stays bound to its worker.
func (p *HandlePool) Release(h repositories.Handle) {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return
	}
	if !hh.leased.CompareAndSwap(true, false) {
		p.logger.Warn("released a handle that was not leased",
			zap.Int("worker", int(hh.worker)),
			zap.String("handle_id", hh.id),
		)
	}
}

// Discard closes a handle and forgets it, so the worker reconnects on its next Acquire
func (p *HandlePool) Discard(h repositories.Handle) {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return
	}

	p.mu.Lock()
	if v, ok := p.handles.Load(hh.worker); ok && v.(*handle) == hh {
		p.handles.Delete(hh.worker)
		p.size.Add(-1)
	}
	p.mu.Unlock()

	if err := hh.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.logger.Warn("failed to close discarded handle",
			zap.String("handle_id", hh.id),
			zap.Error(err),
		)
	}
	p.logger.Info("discarded store handle",
		zap.Int("worker", int(hh.worker)),
		zap.String("handle_id", hh.id),
	)
}

// Size returns the number of open handles
func (p *HandlePool) Size() int {
	return int(p.size.Load())
}

// Close closes every handle. Later Acquire calls fail with ErrPoolClosed.
func (p *HandlePool) Close() error {
	p.closed.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	p.handles.Range(func(key, value any) bool {
		h := value.(*handle)
		if err := h.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("handle %s: %w", h.id, err))
		}
		p.handles.Delete(key)
		p.size.Add(-1)
		return true
	})

	return errors.Join(errs...)
}
