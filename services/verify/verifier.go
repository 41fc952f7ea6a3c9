// Package verify cross-checks keyset pages against the LIMIT/OFFSET reference query.
package verify

import (
	"context"
	"fmt"
	"reflect"

	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PageExecutor runs a query on a caller-owned worker
type PageExecutor interface {
	Execute(ctx context.Context, worker repositories.WorkerID, q models.Query) (*models.Page, error)
}

// QuerySource yields the queries to check
type QuerySource interface {
	Pick() models.Query
}

// Config holds configuration for the Verifier
type Config struct {
	Count       int
	Concurrency int
	// FirstWorker is the lowest worker ID used; it must not overlap the
	// query service's own workers
	FirstWorker repositories.WorkerID
}

// Mismatch is a query whose keyset page differs from the reference page
type Mismatch struct {
	Query  models.Query `json:"query"`
	Reason string       `json:"reason"`
	Got    []int64      `json:"got"`
	Want   []int64      `json:"want"`
}

// Report summarizes a verification run
type Report struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// OK reports whether every checked page matched
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Verifier compares Execute results, payloads included, with NaiveWindow
// rows hydrated straight from the payload store
type Verifier struct {
	executor PageExecutor
	pool     repositories.HandlePool
	index    repositories.EventIndex
	payloads repositories.PayloadReader
	logger   *zap.Logger
	config   Config
}

// NewVerifier creates a new Verifier
func NewVerifier(
	executor PageExecutor,
	pool repositories.HandlePool,
	index repositories.EventIndex,
	payloads repositories.PayloadReader,
	logger *zap.Logger,
	config Config,
) *Verifier {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Verifier{
		executor: executor,
		pool:     pool,
		index:    index,
		payloads: payloads,
		logger:   logger,
		config:   config,
	}
}

// Run checks Count queries drawn from source. Each goroutine owns one worker ID.
// Query errors abort the run; mismatches are collected.
func (v *Verifier) Run(ctx context.Context, source QuerySource) (*Report, error) {
	queries := make([]models.Query, v.config.Count)
	for i := range queries {
		queries[i] = source.Pick()
	}

	mismatches := make([]*Mismatch, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < v.config.Concurrency; w++ {
		worker := v.config.FirstWorker + repositories.WorkerID(w)
		g.Go(func() error {
			for i := w; i < len(queries); i += v.config.Concurrency {
				m, err := v.check(gctx, worker, queries[i])
				if err != nil {
					return fmt.Errorf("query %d: %w", i, err)
				}
				mismatches[i] = m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Checked: len(queries), Mismatches: []Mismatch{}}
	for _, m := range mismatches {
		if m != nil {
			report.Mismatches = append(report.Mismatches, *m)
		}
	}

	v.logger.Info("verification finished",
		zap.Int("checked", report.Checked),
		zap.Int("mismatches", len(report.Mismatches)))
	return report, nil
}

// check runs one query both ways on the same worker handle
func (v *Verifier) check(ctx context.Context, worker repositories.WorkerID, q models.Query) (*Mismatch, error) {
	page, err := v.executor.Execute(ctx, worker, q)
	if err != nil {
		return nil, err
	}
	want, err := v.reference(ctx, worker, q)
	if err != nil {
		return nil, err
	}

	reason := diff(page.Events, want)
	if reason == "" {
		return nil, nil
	}
	m := &Mismatch{Query: q, Reason: reason, Got: ids(page.Events), Want: ids(want)}
	v.logger.Warn("page mismatch",
		zap.String("filter", q.Filter().Key()),
		zap.Int("page", q.Page),
		zap.Int("page_size", q.PageSize),
		zap.String("reason", reason),
		zap.Int64s("got", m.Got),
		zap.Int64s("want", m.Want))
	return m, nil
}

// reference fetches the LIMIT/OFFSET page and hydrates it from the payload store
func (v *Verifier) reference(ctx context.Context, worker repositories.WorkerID, q models.Query) ([]models.Event, error) {
	h, err := v.pool.Acquire(ctx, worker)
	if err != nil {
		return nil, err
	}
	rows, err := v.index.NaiveWindow(ctx, h, q.Filter(), q.PageSize, q.Offset())
	v.pool.Release(h)
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, len(rows))
	for i, row := range rows {
		payload, err := v.payloads.Read(row.PayloadOffset, row.PayloadLen)
		if err != nil {
			return nil, fmt.Errorf("reference payload for event %d: %w", row.ID, err)
		}
		events[i] = row.Hydrate(payload)
	}
	return events, nil
}

// diff describes the first difference between two pages, or returns ""
func diff(got, want []models.Event) string {
	if len(got) != len(want) {
		return fmt.Sprintf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID {
			return fmt.Sprintf("position %d: got event %d, want %d", i, g.ID, w.ID)
		}
		gm, wm := g, w
		gm.Payload, wm.Payload = nil, nil
		if gm != wm {
			return fmt.Sprintf("event %d: metadata differs", w.ID)
		}
		if !reflect.DeepEqual(g.Payload, w.Payload) {
			return fmt.Sprintf("event %d: payload differs", w.ID)
		}
	}
	return ""
}

func ids(events []models.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
