// Package cmd implements the lila server command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/log"
)

// Execute is the main entry point for the lila server.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lila",
		Short:         "Lila collects build attestations and reports on Nix reproducibility",
		Long:          "Lila is a ledger of build attestations for Nix derivations. It classifies outputs by reproducibility, renders SBOM reports and suggests what to rebuild next.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", defaultEnvFile, "Path to a .env file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("db-type", "sqlite", "Database type: sqlite|postgres|cloudsql")
	rootCmd.PersistentFlags().String("db-path", "lila.db", "SQLite database path")
	rootCmd.PersistentFlags().String("db-url", "", "Postgres connection string")
	rootCmd.PersistentFlags().String("db-host", "", "Database host")
	rootCmd.PersistentFlags().String("db-port", "", "Database port")
	rootCmd.PersistentFlags().String("db-user", "", "Database user")
	rootCmd.PersistentFlags().String("db-password", "", "Database password")
	rootCmd.PersistentFlags().String("db-name", "", "Database name")
	rootCmd.PersistentFlags().String("db-ssl-mode", "", "Database SSL mode")
	rootCmd.PersistentFlags().String("db-instance", "", "Cloud SQL instance connection name")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newUserCmd(), newEvaluateCmd())
	return rootCmd
}

// setupLogging builds the logger for level and installs it globally and in ctx.
func setupLogging(ctx context.Context, level string) (context.Context, func(), error) {
	logger, z, err := log.New(level)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating logger: %w", err)
	}
	restore := zap.ReplaceGlobals(z)
	cleanup := func() {
		_ = z.Sync() //nolint:errcheck
		restore()
	}
	return log.WithLogger(ctx, logger), cleanup, nil
}
