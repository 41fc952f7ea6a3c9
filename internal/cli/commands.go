package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/audit-query/app"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/services/bench"
	"github.com/upb/audit-query/services/seed"
	"github.com/upb/audit-query/services/verify"
	"go.uber.org/zap"
)

var (
	// ErrVerificationFailed is returned by verify when any page mismatched
	ErrVerificationFailed = errors.New("keyset pages differ from the reference query")
	// ErrNoImprovement is returned by bench --mode compare when the keyset
	// path does not beat LIMIT/OFFSET on throughput and tail latency
	ErrNoImprovement = errors.New("keyset path did not beat the LIMIT/OFFSET baseline")
)

// Bench modes
const (
	benchKeyset  = "keyset"
	benchNaive   = "naive"
	benchCompare = "compare"
)

// reserveConns makes room for extra dedicated workers beside the query service's own
func reserveConns(cfg *config.Config, extra int, logger *zap.Logger) {
	if cfg.ReserveConns(extra) {
		logger.Info("raised database connection limit",
			zap.Int("extra_workers", extra),
			zap.Int("max_open_conns", cfg.Database.MaxOpenConns))
	}
}

func newSeedCommand(loadConfig ConfigFunc) *cobra.Command {
	def := seed.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate the deterministic dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, loadConfig)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rows, _ := cmd.Flags().GetInt("rows")
			batch, _ := cmd.Flags().GetInt("batch-size")
			seedValue, _ := cmd.Flags().GetUint64("seed")

			factory, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer factory.Close()

			gen := seed.NewGenerator(factory.NewRepositories().Writer, logger, seed.Config{
				Rows:      rows,
				BatchSize: batch,
				Seed:      seedValue,
				Span:      def.Span,
			})
			res, err := gen.Run(cmd.Context(), cfg.Payload.File)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int("rows", def.Rows, "Number of events to generate")
	cmd.Flags().Int("batch-size", def.BatchSize, "Rows per insert transaction")
	cmd.Flags().Uint64("seed", def.Seed, "Random seed")
	return cmd
}

func newQueryCommand(loadConfig ConfigFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Fetch one page of audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, loadConfig)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			q, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}

			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())

			page, err := deps.QueryService.HandleRequest(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().Int64("from", 0, "Start of the created_at range, epoch seconds (required)")
	cmd.Flags().Int64("to", 0, "End of the created_at range, epoch seconds (required)")
	cmd.Flags().Int64("actor", 0, "Filter by actor ID")
	cmd.Flags().String("action", "", "Filter by action")
	cmd.Flags().Int("page", 1, "Page number, 1-based")
	cmd.Flags().Int("page-size", 20, "Rows per page")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// queryFromFlags maps query flags to a Query; unset optional flags stay nil
func queryFromFlags(cmd *cobra.Command) (models.Query, error) {
	var q models.Query
	flags := cmd.Flags()
	q.FromTS, _ = flags.GetInt64("from")
	q.ToTS, _ = flags.GetInt64("to")
	q.Page, _ = flags.GetInt("page")
	q.PageSize, _ = flags.GetInt("page-size")

	if flags.Changed("actor") {
		actor, _ := flags.GetInt64("actor")
		q.ActorID = &actor
	}
	if flags.Changed("action") {
		action, _ := flags.GetString("action")
		if action == "" {
			return models.Query{}, fmt.Errorf("--action must not be empty")
		}
		q.Action = &action
	}
	return q, nil
}

func newVerifyCommand(loadConfig ConfigFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check keyset pages, payloads included, against LIMIT/OFFSET for random queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, loadConfig)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			count, _ := cmd.Flags().GetInt("count")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			seedValue, _ := cmd.Flags().GetUint64("seed")

			reserveConns(cfg, concurrency, logger)
			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())

			v := verify.NewVerifier(deps.QueryService, deps.Pool, deps.Events, deps.Payloads, logger, verify.Config{
				Count:       count,
				Concurrency: concurrency,
				// Above the service's own worker IDs
				FirstWorker: repositories.WorkerID(cfg.Query.Workers),
			})
			report, err := v.Run(cmd.Context(), seed.NewQueryPicker(seedValue, nil))
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d of %d", ErrVerificationFailed, len(report.Mismatches), report.Checked)
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 200, "Number of random queries to check")
	cmd.Flags().Int("concurrency", 4, "Parallel checkers, each with its own store handle")
	cmd.Flags().Uint64("seed", 42, "Query picker seed")
	return cmd
}

func newBenchCommand(loadConfig ConfigFunc) *cobra.Command {
	def := bench.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure keyset and LIMIT/OFFSET query latency",
		Long: "bench replays random queries with a fixed number in flight. --mode compare runs the LIMIT/OFFSET " +
			"baseline and the keyset path on the same query sequence and fails unless keyset wins on rps, p95 and p99.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, loadConfig)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			mode, _ := cmd.Flags().GetString("mode")
			warmup, _ := cmd.Flags().GetInt("warmup")
			total, _ := cmd.Flags().GetInt("total")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			seedValue, _ := cmd.Flags().GetUint64("seed")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			switch mode {
			case benchKeyset, benchNaive, benchCompare:
			default:
				return fmt.Errorf("unknown --mode %q: want %s, %s or %s", mode, benchKeyset, benchNaive, benchCompare)
			}
			if concurrency < 1 {
				concurrency = 1
			}

			reserveConns(cfg, concurrency, logger)
			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())

			runner := bench.NewRunner(bench.Config{Warmup: warmup, Total: total, Concurrency: concurrency}, logger)
			first := repositories.WorkerID(cfg.Query.Workers)

			// Every run replays the same query sequence
			measure := func(name string, exec pageFunc) (*bench.Report, error) {
				picker := seed.NewQueryPicker(seedValue, nil)
				load := bench.PerWorker(first, concurrency, func(ctx context.Context, worker repositories.WorkerID) error {
					ctx, cancel := context.WithTimeout(ctx, timeout)
					defer cancel()
					_, err := exec(ctx, worker, picker.Pick())
					return err
				})
				logger.Info("benchmark started", zap.String("path", name))
				return runner.Run(cmd.Context(), load)
			}

			svc := deps.QueryService
			switch mode {
			case benchKeyset:
				report, err := measure(benchKeyset, svc.Execute)
				if err != nil {
					return err
				}
				logger.Info("cursor cache", zap.Any("stats", svc.GetStats().CursorCache))
				return writeJSON(cmd.OutOrStdout(), report)
			case benchNaive:
				report, err := measure(benchNaive, svc.ExecuteNaive)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			}

			naive, err := measure(benchNaive, svc.ExecuteNaive)
			if err != nil {
				return err
			}
			keyset, err := measure(benchKeyset, svc.Execute)
			if err != nil {
				return err
			}
			comparison := bench.Compare(naive, keyset)
			if err := writeJSON(cmd.OutOrStdout(), comparison); err != nil {
				return err
			}
			if !comparison.OK() {
				return fmt.Errorf("%w: rps %.1f vs %.1f, p95 %.2fms vs %.2fms, p99 %.2fms vs %.2fms", ErrNoImprovement,
					keyset.RPS, naive.RPS, keyset.P95Ms, naive.P95Ms, keyset.P99Ms, naive.P99Ms)
			}
			return nil
		},
	}
	cmd.Flags().String("mode", benchKeyset, "Query path to measure: keyset, naive or compare")
	cmd.Flags().Int("warmup", def.Warmup, "Sequential warmup requests")
	cmd.Flags().Int("total", def.Total, "Measured requests")
	cmd.Flags().Int("concurrency", def.Concurrency, "Requests in flight, each on its own store handle")
	cmd.Flags().Uint64("seed", 42, "Query picker seed")
	cmd.Flags().Duration("timeout", 5*time.Second, "Per-request timeout")
	return cmd
}

// pageFunc serves one query on a caller-owned worker
type pageFunc func(ctx context.Context, worker repositories.WorkerID, q models.Query) (*models.Page, error)
