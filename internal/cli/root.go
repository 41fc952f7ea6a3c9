// Package cli implements the auditctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/internal/observability"
	"go.uber.org/zap"
)

// ConfigFunc loads the configuration for a command
type ConfigFunc func(ctx context.Context) (*config.Config, error)

// NewRoot constructs the root command. loadConfig defaults to config.New.
func NewRoot(loadConfig ConfigFunc) *cobra.Command {
	if loadConfig == nil {
		loadConfig = config.New
	}

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Audit event store tooling",
		Long:          "auditctl seeds the audit event store, runs paginated queries against it, checks keyset pages against LIMIT/OFFSET and benchmarks the query service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSeedCommand(loadConfig))
	root.AddCommand(newQueryCommand(loadConfig))
	root.AddCommand(newVerifyCommand(loadConfig))
	root.AddCommand(newBenchCommand(loadConfig))
	return root
}

// setup loads configuration and builds the logger for a command
func setup(cmd *cobra.Command, loadConfig ConfigFunc) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
