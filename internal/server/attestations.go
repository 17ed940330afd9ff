package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/pkg/repro"
)

// drvHashParam strips an optional .drv suffix; hashes are stored without it.
func drvHashParam(c *gin.Context) string {
	return strings.TrimSuffix(c.Param("drv_hash"), ".drv")
}

func (s *Server) postAttestations(c *gin.Context) {
	var requests []external.AttestationRequest
	if err := c.ShouldBindJSON(&requests); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid attestation body: " + err.Error()})
		return
	}
	dtos, err := external.MapAttestationRequestsToDTO(requests)
	if err != nil {
		if fields := external.ValidationErrors(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid attestation", "errors": fields})
			return
		}
		s.fail(c, err, "")
		return
	}

	ctx := c.Request.Context()
	recorded, err := s.deps.Attestations.RecordAttestations(ctx, drvHashParam(c), currentUser(c), dtos)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	if err := s.deps.Metrics.AddCounter(ctx, attestationsTotal, float64(len(recorded))); err != nil {
		s.logger.Warn("failed to count attestations", zap.Error(err))
	}
	c.JSON(http.StatusOK, []string{"Attestation accepted"})
}

func (s *Server) attestationsByOutput(c *gin.Context) {
	path := repro.DefaultStorePrefix + "/" + c.Param("output")
	attestations, err := s.deps.Attestations.AttestationsByOutput(c.Request.Context(), path)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, attestations)
}

func (s *Server) listDerivations(c *gin.Context) {
	derivations, err := s.deps.Attestations.ListDerivations(c.Request.Context())
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, derivations)
}

// getDerivation returns {output path: {hash: count}}, or the raw attestations with ?full=true.
func (s *Server) getDerivation(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("full") == "true" {
		attestations, err := s.deps.Attestations.DerivationAttestations(ctx, drvHashParam(c))
		if err != nil {
			s.fail(c, err, "")
			return
		}
		c.JSON(http.StatusOK, attestations)
		return
	}
	summary, err := s.deps.Attestations.DerivationSummary(ctx, drvHashParam(c))
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listLinkPatterns(c *gin.Context) {
	patterns, err := s.deps.LinkPatterns.ListLinkPatterns(c.Request.Context())
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, patterns)
}

func (s *Server) postLinkPattern(c *gin.Context) {
	pattern, link := c.Query("pattern"), c.Query("link")
	if pattern == "" || link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "pattern and link are required"})
		return
	}
	if _, err := s.deps.LinkPatterns.UpsertLinkPattern(c.Request.Context(), pattern, link); err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, []string{"Link pattern defined"})
}

func (s *Server) getNarInfo(c *gin.Context) {
	digest, ok := strings.CutSuffix(c.Param("narinfo"), ".narinfo")
	if !ok || digest == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
		return
	}
	ctx := c.Request.Context()
	user, err := s.deps.Users.UserByName(ctx, c.Param("user"))
	if err != nil {
		s.fail(c, err, "User not found")
		return
	}
	info, err := s.deps.Attestations.NarInfo(ctx, user.ID, digest)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.Data(http.StatusOK, repro.NarInfoContentType, []byte(info.String()))
}
