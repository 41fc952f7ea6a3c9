package bench

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadFunc issues one request
type LoadFunc func(ctx context.Context) error

// Config holds configuration for a benchmark run
type Config struct {
	Warmup      int
	Total       int
	Concurrency int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Warmup:      200,
		Total:       2000,
		Concurrency: 32,
	}
}

// Report summarizes a benchmark run. Latencies are in milliseconds.
type Report struct {
	RunID       string        `json:"run_id"`
	Count       int           `json:"count"`
	Concurrency int           `json:"concurrency"`
	Errors      int64         `json:"errors"`
	RPS         float64       `json:"rps"`
	P50Ms       float64       `json:"p50_ms"`
	P90Ms       float64       `json:"p90_ms"`
	P95Ms       float64       `json:"p95_ms"`
	P99Ms       float64       `json:"p99_ms"`
	AvgMs       float64       `json:"avg_ms"`
	Elapsed     time.Duration `json:"elapsed"`
	Latencies   []float64     `json:"-"`
}

// Runner drives a LoadFunc and measures it
type Runner struct {
	config Config
	logger *zap.Logger
}

// NewRunner creates a new Runner
func NewRunner(config Config, logger *zap.Logger) *Runner {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Runner{config: config, logger: logger}
}

// Run executes Warmup sequential requests, then Total requests with at most
// Concurrency in flight. Failed requests are counted and still timed.
func (r *Runner) Run(ctx context.Context, load LoadFunc) (*Report, error) {
	if r.config.Total < 1 {
		return nil, fmt.Errorf("total must be at least 1")
	}

	runID := uuid.New().String()
	logger := r.logger.With(zap.String("run_id", runID))

	for i := 0; i < r.config.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = load(ctx)
	}
	logger.Debug("warmup done", zap.Int("requests", r.config.Warmup))

	latencies := make([]float64, r.config.Total)
	var errCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	start := time.Now()
	for i := 0; i < r.config.Total; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t0 := time.Now()
			err := load(gctx)
			latencies[i] = float64(time.Since(t0)) / float64(time.Millisecond)
			if err != nil {
				errCount.Add(1)
				logger.Debug("request failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       runID,
		Count:       r.config.Total,
		Concurrency: r.config.Concurrency,
		Errors:      errCount.Load(),
		RPS:         float64(r.config.Total) / elapsed.Seconds(),
		P50Ms:       Percentile(latencies, 0.50),
		P90Ms:       Percentile(latencies, 0.90),
		P95Ms:       Percentile(latencies, 0.95),
		P99Ms:       Percentile(latencies, 0.99),
		AvgMs:       mean(latencies),
		Elapsed:     elapsed,
		Latencies:   latencies,
	}

	logger.Info("benchmark finished",
		zap.Int("count", report.Count),
		zap.Int("concurrency", report.Concurrency),
		zap.Int64("errors", report.Errors),
		zap.Float64("rps", report.RPS),
		zap.Float64("p50_ms", report.P50Ms),
		zap.Float64("p99_ms", report.P99Ms))
	return report, nil
}

// Percentile returns the p-quantile (0..1) with linear interpolation
// between closest ranks. xs is not modified.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	k := float64(len(sorted)-1) * p
	f := int(k)
	c := min(f+1, len(sorted)-1)
	if f == c {
		return sorted[f]
	}
	return sorted[f] + (sorted[c]-sorted[f])*(k-float64(f))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
