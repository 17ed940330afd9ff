package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/evaluator"
	"github.com/lila-repro/lila/internal/executor"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/internal/pprof"
	"github.com/lila-repro/lila/internal/server"
	"github.com/lila-repro/lila/pkg/suggest"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lila HTTP API",
		Long:  "Connect to the database, migrate it and serve the attestation, report and jobset API until interrupted",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("addr", "a", ":8000", "Listen address")
	serveCmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins; empty allows all")
	serveCmd.Flags().Int("sample-size", suggest.DefaultSampleSize, "Maximum number of suggestions returned")
	serveCmd.Flags().String("pprof-addr", "", "Optional: listen address of the pprof server")
	serveCmd.Flags().String("evaluator", evaluator.DefaultBinary, "nix-eval-jobs binary used to evaluate jobsets")
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cleanup, err := setupLogging(ctx, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	dbConn, err := DefaultDatabaseInitializer.Initialize(ctx, &cfg.Database, log.NewLogger(ctx))
	if err != nil {
		return fmt.Errorf("error setting up database connection: %w", err)
	}
	srv, err := newServer(ctx, cfg, dbConn)
	if err != nil {
		return err
	}
	return serve(ctx, srv, cfg.PprofAddr)
}

// newServer wires the gorm managers, the jobset evaluator and the HTTP server.
func newServer(ctx context.Context, cfg *Config, dbConn *gorm.DB) (*server.Server, error) {
	attestations, err := db.NewGormAttestationManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing attestation manager: %w", err)
	}
	reports, err := db.NewGormReportManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing report manager: %w", err)
	}
	linkPatterns, err := db.NewGormLinkPatternManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing link pattern manager: %w", err)
	}
	users, err := db.NewGormUserManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing user manager: %w", err)
	}
	jobsets, err := db.NewGormJobsetManager(dbConn)
	if err != nil {
		return nil, fmt.Errorf("error initializing jobset manager: %w", err)
	}
	flakeEvaluator, err := evaluator.New(executor.NewCommandExecutor(ctx), cfg.Evaluator)
	if err != nil {
		return nil, fmt.Errorf("error creating evaluator: %w", err)
	}
	runner, err := evaluator.NewRunner(jobsets, flakeEvaluator)
	if err != nil {
		return nil, fmt.Errorf("error creating evaluation runner: %w", err)
	}

	srv, err := server.New(ctx, cfg.Server, server.Dependencies{
		Attestations: attestations,
		Reports:      reports,
		LinkPatterns: linkPatterns,
		Users:        users,
		Jobsets:      jobsets,
		Runner:       runner,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating server: %w", err)
	}
	return srv, nil
}

// serve runs the API and, when pprofAddr is set, the profiler until ctx is done.
func serve(ctx context.Context, srv *server.Server, pprofAddr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if pprofAddr != "" {
		g.Go(func() error {
			return pprof.StartPprofServer(ctx, pprofAddr)
		})
	}
	if err := g.Wait(); err != nil {
		log.NewLogger(ctx).Error("Server exited with error", zap.Error(err))
		return err
	}
	return nil
}
