package bench

import (
	"context"

	"github.com/upb/audit-query/repositories"
)

// WorkerLoad issues one request on a leased worker
type WorkerLoad func(ctx context.Context, worker repositories.WorkerID) error

// PerWorker adapts load to a LoadFunc that leases one of n worker IDs,
// starting at first, for each call. Calls wait while every ID is leased, so
// no two requests in flight share a worker's store handle.
func PerWorker(first repositories.WorkerID, n int, load WorkerLoad) LoadFunc {
	if n < 1 {
		n = 1
	}
	free := make(chan repositories.WorkerID, n)
	for i := 0; i < n; i++ {
		free <- first + repositories.WorkerID(i)
	}

	return func(ctx context.Context) error {
		var worker repositories.WorkerID
		select {
		case worker = <-free:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { free <- worker }()
		return load(ctx, worker)
	}
}

// Comparison gates a candidate run against a baseline run
type Comparison struct {
	Baseline    *Report `json:"baseline"`
	Candidate   *Report `json:"candidate"`
	Speedup     float64 `json:"speedup"`
	RPSImproved bool    `json:"rps_improved"`
	P95Improved bool    `json:"p95_improved"`
	P99Improved bool    `json:"p99_improved"`
}

// Compare reports whether candidate beats baseline on throughput and tail latency
func Compare(baseline, candidate *Report) *Comparison {
	c := &Comparison{
		Baseline:    baseline,
		Candidate:   candidate,
		RPSImproved: candidate.RPS > baseline.RPS,
		P95Improved: candidate.P95Ms < baseline.P95Ms,
		P99Improved: candidate.P99Ms < baseline.P99Ms,
	}
	if baseline.RPS > 0 {
		c.Speedup = candidate.RPS / baseline.RPS
	}
	return c
}

// OK reports whether every gate passed
func (c *Comparison) OK() bool {
	return c.RPSImproved && c.P95Improved && c.P99Improved
}
