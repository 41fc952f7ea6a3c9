package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/upb/audit-query/internal/observability"
	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/services"
	"github.com/upb/audit-query/utils"
	"go.uber.org/zap"
)

// Config holds configuration for the query Service
type Config struct {
	Workers     int // Number of concurrent workers, each owning one store handle
	QueueSize   int // Size of the pending request channel
	MaxPageSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueSize:   256,
		MaxPageSize: 500,
	}
}

type result struct {
	page *models.Page
	err  error
}

type job struct {
	ctx        context.Context
	query      models.Query
	enqueuedAt time.Time
	done       chan result
}

// Service answers paginated audit event queries on a fixed set of workers
type Service struct {
	pool     repositories.HandlePool
	index    repositories.EventIndex
	payloads repositories.PayloadReader
	resolver *CursorResolver
	metrics  *observability.Metrics
	logger   *zap.Logger
	config   Config

	jobs    chan *job
	drained chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewService creates a new query Service
func NewService(
	pool repositories.HandlePool,
	index repositories.EventIndex,
	payloads repositories.PayloadReader,
	cache CursorCache,
	metrics *observability.Metrics,
	logger *zap.Logger,
	config Config,
) *Service {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.MaxPageSize < 1 {
		config.MaxPageSize = DefaultConfig().MaxPageSize
	}

	if metrics == nil {
		metrics = observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		pool:     pool,
		index:    index,
		payloads: payloads,
		resolver: NewCursorResolver(index, cache, metrics, logger),
		metrics:  metrics,
		logger:   logger,
		config:   config,
		jobs:     make(chan *job, config.QueueSize),
		drained:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the worker goroutines
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("query service already started")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("query service already stopped")
	}

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(repositories.WorkerID(i))
	}

	s.started = true
	s.logger.Info("started query service",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Int("max_page_size", s.config.MaxPageSize))

	return nil
}

// Stop stops accepting work and waits for in-flight queries to finish.
// Queued requests that no worker picked up fail with ErrServiceStopped.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("query service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping query service", zap.Int("pending_requests", len(s.jobs)))
	s.cancel()

	go func() {
		s.wg.Wait()
		close(s.drained)
	}()

	select {
	case <-s.drained:
		s.logger.Info("query service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("query service stop timeout after %v", timeout)
	}
}

// HandleRequest validates q, hands it to a worker and waits for the page
func (s *Service) HandleRequest(ctx context.Context, q models.Query) (*models.Page, error) {
	if err := s.Validate(q); err != nil {
		s.observeOutcome(err, false)
		return nil, err
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, services.ErrServiceStopped
	}

	j := &job{
		ctx:        ctx,
		query:      q,
		enqueuedAt: time.Now(),
		done:       make(chan result, 1),
	}

	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return nil, classify(ctx.Err())
	case <-s.ctx.Done():
		return nil, services.ErrServiceStopped
	}

	select {
	case res := <-j.done:
		return res.page, res.err
	case <-ctx.Done():
		// The worker still finishes the job and releases its handle.
		return nil, classify(ctx.Err())
	case <-s.ctx.Done():
		// A job picked up before Stop still reports once the workers drain.
		select {
		case res := <-j.done:
			return res.page, res.err
		case <-s.drained:
			select {
			case res := <-j.done:
				return res.page, res.err
			default:
				return nil, services.ErrServiceStopped
			}
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		}
	}
}

// Execute runs q synchronously on the given worker's handle. Callers that
// run their own goroutines must use a distinct worker per goroutine.
func (s *Service) Execute(ctx context.Context, worker repositories.WorkerID, q models.Query) (*models.Page, error) {
	if err := s.Validate(q); err != nil {
		s.observeOutcome(err, false)
		return nil, err
	}
	return s.execute(ctx, worker, q)
}

// Validate checks the query fields and page arithmetic
func (s *Service) Validate(q models.Query) error {
	if err := utils.ValidateStruct(&q); err != nil {
		derr := services.NewDomainError(services.ErrorTypeInvalidQuery, "invalid query", nil)
		for field, msg := range utils.GetValidationFields(err) {
			derr.WithDetail(field, msg)
		}
		if !utils.IsValidationError(err) {
			derr.Err = err
		}
		return derr
	}
	if q.PageSize > s.config.MaxPageSize {
		return services.NewDomainError(services.ErrorTypeInvalidQuery, "page_size exceeds the maximum", nil).
			WithDetail("page_size", fmt.Sprintf("page_size must be at most %d", s.config.MaxPageSize))
	}
	if q.Page > math.MaxInt/q.PageSize {
		return services.NewDomainError(services.ErrorTypeInvalidQuery, "page is out of range", nil).
			WithDetail("page", "page * page_size overflows")
	}
	return nil
}

// worker processes queued requests until the service stops
func (s *Service) worker(id repositories.WorkerID) {
	defer s.wg.Done()

	s.logger.Debug("query worker started", zap.Int("worker_id", int(id)))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("query worker stopped", zap.Int("worker_id", int(id)))
			return
		case j := <-s.jobs:
			s.metrics.QueueWait.Observe(time.Since(j.enqueuedAt).Seconds())
			if err := j.ctx.Err(); err != nil {
				j.done <- result{err: classify(err)}
				continue
			}
			page, err := s.execute(j.ctx, id, j.query)
			j.done <- result{page: page, err: err}
		}
	}
}

// execute runs a validated query: acquire, resolve cursor, fetch window, hydrate, release
func (s *Service) execute(ctx context.Context, worker repositories.WorkerID, q models.Query) (page *models.Page, err error) {
	start := time.Now()
	logger := observability.FromContext(ctx, s.logger).With(
		zap.Int("worker_id", int(worker)),
		zap.Int("page", q.Page),
		zap.Int("page_size", q.PageSize))

	defer func() {
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		s.observeOutcome(err, page != nil && page.Count == 0)
		if err != nil {
			logger.Warn("query failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		}
	}()

	h, err := s.pool.Acquire(ctx, worker)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		if errors.Is(err, repositories.ErrStoreUnavailable) || services.IsStoreUnavailableError(err) {
			s.pool.Discard(h)
		} else {
			s.pool.Release(h)
		}
		s.metrics.PoolHandles.Set(float64(s.pool.Size()))
	}()

	stage := time.Now()
	cursor, empty, err := s.resolver.Resolve(ctx, h, q)
	s.metrics.StageDuration.WithLabelValues("cursor").Observe(time.Since(stage).Seconds())
	if err != nil {
		return nil, classify(err)
	}
	if empty {
		logger.Debug("page past the end of the filtered set")
		return models.NewPage(q, nil), nil
	}

	stage = time.Now()
	rows, err := s.index.QueryWindow(ctx, h, q.Filter(), cursor, q.PageSize)
	s.metrics.StageDuration.WithLabelValues("window").Observe(time.Since(stage).Seconds())
	if err != nil {
		return nil, classify(err)
	}
	if len(rows) == q.PageSize {
		s.resolver.Remember(ctx, q, rows[len(rows)-1])
	}

	events, err := s.hydrate(rows)
	if err != nil {
		return nil, err
	}

	logger.Debug("query served", zap.Int("count", len(events)), zap.Duration("duration", time.Since(start)))
	return models.NewPage(q, events), nil
}

// ExecuteNaive serves q with LIMIT/OFFSET on the worker's handle. It is the
// reference and baseline for the keyset path and skips the cursor cache.
func (s *Service) ExecuteNaive(ctx context.Context, worker repositories.WorkerID, q models.Query) (page *models.Page, err error) {
	if err := s.Validate(q); err != nil {
		return nil, err
	}

	h, err := s.pool.Acquire(ctx, worker)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		if services.IsStoreUnavailableError(err) {
			s.pool.Discard(h)
		} else {
			s.pool.Release(h)
		}
	}()

	stage := time.Now()
	rows, err := s.index.NaiveWindow(ctx, h, q.Filter(), q.PageSize, q.Offset())
	s.metrics.StageDuration.WithLabelValues("naive_window").Observe(time.Since(stage).Seconds())
	if err != nil {
		return nil, classify(err)
	}

	events, err := s.hydrate(rows)
	if err != nil {
		return nil, err
	}
	return models.NewPage(q, events), nil
}

// hydrate reads each row's payload, keeping row order
func (s *Service) hydrate(rows []*models.AuditEvent) ([]models.Event, error) {
	stage := time.Now()
	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		payload, err := s.payloads.Read(row.PayloadOffset, row.PayloadLen)
		if err != nil {
			s.metrics.PayloadCorruptions.Inc()
			derr := classify(err)
			var domainErr *services.DomainError
			if errors.As(derr, &domainErr) {
				domainErr.WithDetail("event_id", row.ID)
			}
			return nil, derr
		}
		events = append(events, row.Hydrate(payload))
	}
	s.metrics.StageDuration.WithLabelValues("hydrate").Observe(time.Since(stage).Seconds())
	return events, nil
}

func (s *Service) observeOutcome(err error, empty bool) {
	outcome := observability.OutcomeOK
	switch {
	case err == nil && empty:
		outcome = observability.OutcomeEmpty
	case err == nil:
	case services.IsInvalidQueryError(err):
		outcome = observability.OutcomeInvalidQuery
	case services.IsStoreUnavailableError(err):
		outcome = observability.OutcomeStoreUnavailable
	case services.IsDataCorruptionError(err):
		outcome = observability.OutcomeDataCorruption
	default:
		outcome = observability.OutcomeError
	}
	s.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
}

// classify maps repository and context errors to domain errors
func classify(err error) error {
	var domainErr *services.DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repositories.ErrStoreUnavailable), errors.Is(err, repositories.ErrPoolClosed):
		return services.WrapError(services.ErrorTypeStoreUnavailable, "metadata store unavailable", err)
	case errors.Is(err, repositories.ErrDataCorruption):
		return services.WrapError(services.ErrorTypeDataCorruption, "payload does not match its index entry", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.WrapError(services.ErrorTypeTimeout, "query timed out", err)
	case errors.Is(err, context.Canceled):
		return services.WrapError(services.ErrorTypeTimeout, "query cancelled", err)
	default:
		return services.WrapInternal("query failed", err)
	}
}

// GetStats returns statistics about the query service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Workers:         s.config.Workers,
		QueueSize:       s.config.QueueSize,
		PendingRequests: len(s.jobs),
		MaxPageSize:     s.config.MaxPageSize,
		PoolHandles:     s.pool.Size(),
		Started:         s.started,
		CursorCache:     s.resolver.Stats(),
	}
}

// Stats represents query service statistics
type Stats struct {
	Workers         int        `json:"workers"`
	QueueSize       int        `json:"queue_size"`
	PendingRequests int        `json:"pending_requests"`
	MaxPageSize     int        `json:"max_page_size"`
	PoolHandles     int        `json:"pool_handles"`
	Started         bool       `json:"started"`
	CursorCache     CacheStats `json:"cursor_cache"`
}
