package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/suggest"
)

const (
	userIDKey = "userID"

	requestsTotal        = "http_requests_total"
	requestDuration      = "http_request_duration_seconds"
	attestationsTotal    = "attestations_recorded_total"
	evaluationsTriggered = "evaluations_triggered_total"
	evaluationsRunning   = "evaluations_running"
)

func (s *Server) registerMetrics(ctx context.Context) error {
	if _, err := s.deps.Metrics.RegisterCounter(ctx, requestsTotal, "method", "route", "status"); err != nil {
		return fmt.Errorf("failed to register request counter: %w", err)
	}
	if _, err := s.deps.Metrics.RegisterHistogram(ctx, requestDuration, "method", "route"); err != nil {
		return fmt.Errorf("failed to register request histogram: %w", err)
	}
	attestations, err := s.deps.Metrics.RegisterCounter(ctx, attestationsTotal)
	if err != nil {
		return fmt.Errorf("failed to register attestation counter: %w", err)
	}
	evaluations, err := s.deps.Metrics.RegisterCounter(ctx, evaluationsTriggered)
	if err != nil {
		return fmt.Errorf("failed to register evaluation counter: %w", err)
	}
	running, err := s.deps.Metrics.RegisterGauge(ctx, evaluationsRunning)
	if err != nil {
		return fmt.Errorf("failed to register running evaluations gauge: %w", err)
	}
	// unlabeled series are exported from the start, at zero
	attestations.WithLabelValues()
	evaluations.WithLabelValues()
	running.WithLabelValues()
	return nil
}

// trackEvaluation adjusts the number of running background evaluations by delta.
func (s *Server) trackEvaluation(ctx context.Context, delta int) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	s.running += delta
	if err := s.deps.Metrics.SetGauge(ctx, evaluationsRunning, float64(s.running)); err != nil {
		s.logger.Warn("failed to set running evaluations", zap.Error(err))
	}
}

// measure times a function under the function duration histogram. Call the
// result when the function returns.
func (s *Server) measure(ctx context.Context, function string) func() {
	stop, err := s.deps.Metrics.MeasureFunctionExecutionTime(ctx, function)
	if err != nil {
		s.logger.Warn("failed to measure function", zap.String("function", function), zap.Error(err))
		return func() {}
	}
	return stop
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// instrument counts requests and observes their latency per route.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		route := routeOf(c)
		status := strconv.Itoa(c.Writer.Status())
		if err := s.deps.Metrics.AddCounter(ctx, requestsTotal, 1, c.Request.Method, route, status); err != nil {
			s.logger.Warn("failed to count request", zap.Error(err))
		}
		if err := s.deps.Metrics.ObserveHistogram(ctx, requestDuration, time.Since(start).Seconds(), c.Request.Method, route); err != nil {
			s.logger.Warn("failed to observe request", zap.Error(err))
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func bearerToken(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves the bearer token, if any, to a user id. Unknown tokens
// leave the request anonymous; requireUser rejects those where it matters.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		userID, err := s.deps.Users.UserIDForToken(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(userIDKey, userID)
		case !errors.Is(err, repro.ErrNotFound):
			s.fail(c, err, "")
			c.Abort()
			return
		}
		c.Next()
	}
}

func requireUser(c *gin.Context) {
	if currentUser(c) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "User not found"})
		return
	}
	c.Next()
}

// currentUser returns the authenticated user id, or 0.
func currentUser(c *gin.Context) uint {
	return c.GetUint(userIDKey)
}

func currentSubmitter(c *gin.Context) suggest.SubmitterID {
	return suggest.SubmitterID(currentUser(c))
}

// fail maps err to a status and a {"detail": ...} body. notFound overrides the
// detail of 404 responses.
func (s *Server) fail(c *gin.Context, err error, notFound string) {
	if notFound == "" {
		notFound = "Not found"
	}
	switch {
	case errors.Is(err, repro.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": notFound})
	case errors.Is(err, repro.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "User not found"})
	case errors.Is(err, repro.ErrMalformedInput), errors.Is(err, db.ErrJobsetDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, db.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	default:
		s.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}
