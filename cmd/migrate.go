package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lila-repro/lila/internal/log"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			ctx, cleanup, err := setupLogging(cmd.Context(), cfg.LogLevel)
			if err != nil {
				return err
			}
			defer cleanup()

			dbConn, err := DefaultDatabaseInitializer.Initialize(ctx, &cfg.Database, log.NewLogger(ctx))
			if err != nil {
				return fmt.Errorf("error setting up database connection: %w", err)
			}
			if sqlDB, err := dbConn.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database migrated")
			return nil
		},
	}
}
