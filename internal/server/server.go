// Package server exposes the attestation ledger, reports and jobsets over HTTP.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/internal/metrics"
	"github.com/lila-repro/lila/pkg/suggest"
	"github.com/lila-repro/lila/pkg/types"
)

// MetricsNamespace prefixes every metric the server registers.
const MetricsNamespace = "lila"

const shutdownTimeout = 30 * time.Second

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// EvaluationRunner runs a pending evaluation to completion.
type EvaluationRunner interface {
	Run(ctx context.Context, evaluationID uint) (*model.Evaluation, error)
}

// Config holds the listener settings.
type Config struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins lists CORS origins; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SampleSize bounds suggestion responses.
	SampleSize int `yaml:"sample_size"`
}

// Dependencies are the storage managers and collaborators of the server.
// Runner, Metrics and Rand are optional.
type Dependencies struct {
	Attestations db.AttestationManager
	Reports      db.ReportManager
	LinkPatterns db.LinkPatternManager
	Users        db.UserManager
	Jobsets      db.JobsetManager
	Runner       EvaluationRunner
	Metrics      metrics.Collector
	Rand         *rand.Rand
}

// Server serves the HTTP API.
type Server struct {
	deps       Dependencies
	logger     types.Logger
	handler    http.Handler
	config     Config
	background sync.WaitGroup
	runningMu  sync.Mutex
	running    int
	randMu     sync.Mutex
}

// New builds the router and registers the server metrics.
func New(ctx context.Context, cfg Config, deps Dependencies) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx cannot be nil")
	}
	switch {
	case deps.Attestations == nil:
		return nil, errors.New("attestation manager cannot be nil")
	case deps.Reports == nil:
		return nil, errors.New("report manager cannot be nil")
	case deps.LinkPatterns == nil:
		return nil, errors.New("link pattern manager cannot be nil")
	case deps.Users == nil:
		return nil, errors.New("user manager cannot be nil")
	case deps.Jobsets == nil:
		return nil, errors.New("jobset manager cannot be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(MetricsNamespace)
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = suggest.DefaultSampleSize
	}

	s := &Server{deps: deps, config: cfg, logger: log.NewLogger(ctx)}
	if err := s.registerMetrics(ctx); err != nil {
		return nil, err
	}
	engine, err := s.router()
	if err != nil {
		return nil, err
	}
	s.handler = gzhttp.GzipHandler(engine)
	return s, nil
}

// Handler returns the root handler, gzip included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Wait blocks until background evaluations started by the server have finished.
func (s *Server) Wait() {
	s.background.Wait()
}

// Run serves on cfg.Addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.String("addr", s.config.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	}

	s.logger.Info("Shutting down server", zap.String("addr", s.config.Addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.background.Wait()
	return nil
}

func (s *Server) corsConfig() cors.Config {
	config := cors.DefaultConfig()
	if len(s.config.AllowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = s.config.AllowedOrigins
	}
	config.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	config.AddAllowHeaders("Origin", "Content-Type", "Authorization", "Accept")
	config.AddExposeHeaders("Content-Length")
	return config
}

func (s *Server) router() (*gin.Engine, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.instrument())
	r.Use(cors.New(s.corsConfig()))
	r.Use(s.authenticate())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.MetricsHandler()))

	r.POST("/attestation/:drv_hash", requireUser, s.postAttestations)
	r.GET("/attestations/by-output/:output", s.attestationsByOutput)
	r.GET("/derivations/", s.listDerivations)
	r.GET("/derivations/:drv_hash", s.getDerivation)
	r.GET("/link_patterns", s.listLinkPatterns)
	r.POST("/link_patterns", requireUser, s.postLinkPattern)
	r.GET("/signatures/:user/:narinfo", s.getNarInfo)

	reports := r.Group("/reports")
	reports.GET("", s.listReports)
	reports.PUT("/:name", requireUser, s.defineReport)
	reports.GET("/:name", s.getReport)
	reports.GET("/:name/summary", s.getReportSummary)
	reports.GET("/:name/graph", s.getReportGraph)
	reports.GET("/:name/suggest", s.getSuggest)
	reports.GET("/:name/suggested", s.getSuggested)

	api := r.Group("/api")
	api.GET("/jobsets", s.listJobsets)
	api.POST("/jobsets", requireUser, s.createJobset)
	api.GET("/jobsets/:id", s.getJobset)
	api.PUT("/jobsets/:id", requireUser, s.updateJobset)
	api.DELETE("/jobsets/:id", requireUser, s.deleteJobset)
	api.POST("/jobsets/:id/enable", requireUser, s.enableJobset)
	api.POST("/jobsets/:id/disable", requireUser, s.disableJobset)
	api.POST("/jobsets/:id/evaluate", requireUser, s.evaluateJobset)
	api.GET("/jobsets/:id/evaluations", s.listJobsetEvaluations)
	api.GET("/evaluations", s.listEvaluations)
	api.GET("/evaluations/:id", s.getEvaluation)
	api.GET("/evaluations/:id/derivations", s.getEvaluationDerivations)
	api.GET("/evaluations/:id/sbom", s.getEvaluationSBOM)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	})
	return r, nil
}

// sample shuffles items with the configured source; rand.Rand is not safe for concurrent use.
func sample[T any](s *Server, items []T) []T {
	if s.deps.Rand == nil {
		return suggest.Sample(items, s.config.SampleSize, nil)
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return suggest.Sample(items, s.config.SampleSize, s.deps.Rand)
}
