package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/log"
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage submitters",
	}
	userCmd.AddCommand(newUserCreateCmd())
	return userCmd
}

func newUserCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a submitter and print its bearer token",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return fmt.Errorf("name %w", errRequiredFlagEmpty)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			ctx, cleanup, err := setupLogging(cmd.Context(), cfg.LogLevel)
			if err != nil {
				return err
			}
			defer cleanup()
			logger := log.NewLogger(ctx)

			dbConn, err := DefaultDatabaseInitializer.Initialize(ctx, &cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("error setting up database connection: %w", err)
			}
			if sqlDB, err := dbConn.DB(); err == nil {
				defer sqlDB.Close()
			}
			users, err := db.NewGormUserManager(dbConn)
			if err != nil {
				return fmt.Errorf("error initializing user manager: %w", err)
			}
			user, token, err := users.CreateUser(ctx, args[0])
			if err != nil {
				return fmt.Errorf("error creating user: %w", err)
			}
			logger.Info("Created user", zap.String("name", user.Name), zap.Uint("id", user.ID))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
