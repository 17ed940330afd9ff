package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
)

const (
	jobsetNotFound     = "Jobset not found"
	evaluationNotFound = "Evaluation not found"
)

// evaluationDerivation is one row of GET /api/evaluations/:id/derivations.
type evaluationDerivation struct {
	Outputs       map[string]string `json:"outputs"`
	AttributePath string            `json:"attribute_path"`
	DrvHash       string            `json:"drv_hash"`
	DrvPath       string            `json:"drv_path"`
}

func idParam(c *gin.Context, notFound string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": notFound})
		return 0, false
	}
	return uint(id), true
}

func bindJobsetRequest(c *gin.Context) (*external.JobsetRequest, bool) {
	var req external.JobsetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid jobset body: " + err.Error()})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid jobset", "errors": external.ValidationErrors(err)})
		return nil, false
	}
	return &req, true
}

func (s *Server) listJobsets(c *gin.Context) {
	jobsets, err := s.deps.Jobsets.ListJobsets(c.Request.Context())
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, jobsets)
}

func (s *Server) createJobset(c *gin.Context) {
	req, ok := bindJobsetRequest(c)
	if !ok {
		return
	}
	jobset, err := s.deps.Jobsets.CreateJobset(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, jobset)
}

func (s *Server) getJobset(c *gin.Context) {
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	jobset, err := s.deps.Jobsets.GetJobset(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	c.JSON(http.StatusOK, jobset)
}

func (s *Server) updateJobset(c *gin.Context) {
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	req, ok := bindJobsetRequest(c)
	if !ok {
		return
	}
	jobset, err := s.deps.Jobsets.UpdateJobset(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	c.JSON(http.StatusOK, jobset)
}

func (s *Server) deleteJobset(c *gin.Context) {
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	if err := s.deps.Jobsets.DeleteJobset(c.Request.Context(), id); err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Jobset deleted"})
}

func (s *Server) setJobsetEnabled(c *gin.Context, enabled bool) {
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	jobset, err := s.deps.Jobsets.SetJobsetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	c.JSON(http.StatusOK, jobset)
}

func (s *Server) enableJobset(c *gin.Context)  { s.setJobsetEnabled(c, true) }
func (s *Server) disableJobset(c *gin.Context) { s.setJobsetEnabled(c, false) }

// evaluateJobset records a pending evaluation and runs it in the background.
func (s *Server) evaluateJobset(c *gin.Context) {
	if s.deps.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "evaluator is not configured"})
		return
	}
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	evaluation, err := s.deps.Jobsets.CreateEvaluation(ctx, id)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	if err := s.deps.Metrics.AddCounter(ctx, evaluationsTriggered, 1); err != nil {
		s.logger.Warn("failed to count evaluation", zap.Error(err))
	}

	runCtx := context.WithoutCancel(ctx)
	s.background.Add(1)
	s.trackEvaluation(ctx, 1)
	go func() {
		defer s.background.Done()
		defer s.trackEvaluation(runCtx, -1)
		if _, err := s.deps.Runner.Run(runCtx, evaluation.ID); err != nil {
			s.logger.Error("evaluation run failed", zap.Uint("evaluationID", evaluation.ID), zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, evaluation)
}

func (s *Server) listJobsetEvaluations(c *gin.Context) {
	id, ok := idParam(c, jobsetNotFound)
	if !ok {
		return
	}
	evaluations, err := s.deps.Jobsets.ListEvaluations(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	c.JSON(http.StatusOK, evaluations)
}

func (s *Server) listEvaluations(c *gin.Context) {
	evaluations, err := s.deps.Jobsets.ListEvaluations(c.Request.Context(), 0)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, evaluations)
}

func (s *Server) loadEvaluation(c *gin.Context) (*model.Evaluation, bool) {
	id, ok := idParam(c, evaluationNotFound)
	if !ok {
		return nil, false
	}
	evaluation, err := s.deps.Jobsets.GetEvaluation(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, evaluationNotFound)
		return nil, false
	}
	return evaluation, true
}

func (s *Server) getEvaluation(c *gin.Context) {
	evaluation, ok := s.loadEvaluation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, evaluation)
}

func derivationPath(drvHash string) string {
	return repro.DefaultStorePrefix + "/" + drvHash + ".drv"
}

func (s *Server) getEvaluationDerivations(c *gin.Context) {
	evaluation, ok := s.loadEvaluation(c)
	if !ok {
		return
	}
	out := make([]evaluationDerivation, 0, len(evaluation.Derivations))
	for i := range evaluation.Derivations {
		ed := &evaluation.Derivations[i]
		out = append(out, evaluationDerivation{
			Outputs:       ed.OutputPaths.Data(),
			AttributePath: ed.AttributePath,
			DrvHash:       ed.Derivation.DrvHash,
			DrvPath:       derivationPath(ed.Derivation.DrvHash),
		})
	}
	c.JSON(http.StatusOK, out)
}

// evaluationElements lists every output of an evaluation, outputs of one
// derivation in name order.
func evaluationElements(evaluation *model.Evaluation) []sbom.Element {
	var elements []sbom.Element
	for i := range evaluation.Derivations {
		ed := &evaluation.Derivations[i]
		outputs := ed.OutputPaths.Data()
		names := make([]string, 0, len(outputs))
		for name := range outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			elements = append(elements, sbom.Element{
				OutPath: outputs[name],
				DrvPath: derivationPath(ed.Derivation.DrvHash),
				Output:  name,
			})
		}
	}
	return elements
}

// getEvaluationSBOM exports the outputs of an evaluation as a flat CycloneDX
// document, suitable as a report definition.
func (s *Server) getEvaluationSBOM(c *gin.Context) {
	evaluation, ok := s.loadEvaluation(c)
	if !ok {
		return
	}
	jobset, err := s.deps.Jobsets.GetJobset(c.Request.Context(), evaluation.JobsetID)
	if err != nil {
		s.fail(c, err, jobsetNotFound)
		return
	}
	name := fmt.Sprintf("%s-evaluation-%d", jobset.Name, evaluation.ID)
	body, err := sbom.NewFlatDocument(name, evaluationElements(evaluation)).Bytes()
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.Data(http.StatusOK, sbom.MediaType, body)
}
