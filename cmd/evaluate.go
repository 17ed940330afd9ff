package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/evaluator"
	"github.com/lila-repro/lila/internal/executor"
	"github.com/lila-repro/lila/internal/log"
)

func newEvaluateCmd() *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate <jobset id>",
		Short: "Evaluate a jobset in the foreground and record the evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsetID, err := strconv.ParseUint(args[0], 10, 0)
			if err != nil {
				return fmt.Errorf("invalid jobset id %q: %w", args[0], err)
			}
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
			jobsets, err := db.NewGormJobsetManager(dbConn)
			if err != nil {
				return fmt.Errorf("error initializing jobset manager: %w", err)
			}
			flakeEvaluator, err := evaluator.New(executor.NewCommandExecutor(ctx), cfg.Evaluator)
			if err != nil {
				return fmt.Errorf("error creating evaluator: %w", err)
			}
			runner, err := evaluator.NewRunner(jobsets, flakeEvaluator)
			if err != nil {
				return fmt.Errorf("error creating evaluation runner: %w", err)
			}

			evaluation, err := runner.Trigger(ctx, uint(jobsetID))
			if err != nil {
				return fmt.Errorf("error evaluating jobset %d: %w", jobsetID, err)
			}
			logger.Info("Evaluation finished",
				zap.Uint("evaluationID", evaluation.ID),
				zap.String("status", string(evaluation.Status)),
				zap.Int("derivations", evaluation.DerivationCount),
			)
			if evaluation.Status == model.EvaluationFailed {
				return fmt.Errorf("evaluation %d failed: %s", evaluation.ID, evaluation.ErrorMessage)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evaluation %d: %d derivation(s)\n", evaluation.ID, evaluation.DerivationCount)
			return nil
		},
	}
	evaluateCmd.Flags().String("evaluator", evaluator.DefaultBinary, "nix-eval-jobs binary used to evaluate jobsets")
	return evaluateCmd
}
