package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/report"
	"github.com/lila-repro/lila/pkg/render"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
	"github.com/lila-repro/lila/pkg/suggest"
)

const reportNotFound = "Report not found"

// reportJSON is the application/json rendition of a report.
type reportJSON struct {
	View    report.View            `json:"view"`
	Summary map[string]repro.State `json:"summary"`
}

type reportPage struct {
	Tree template.HTML
	View report.View
}

func (s *Server) pathSummaries(ctx context.Context, paths []string) (map[string]repro.State, error) {
	defer s.measure(ctx, "PathSummaries")()
	return s.deps.Attestations.PathSummaries(ctx, paths)
}

func (s *Server) pathTallies(ctx context.Context, paths []string) (map[string]suggest.Tally, error) {
	defer s.measure(ctx, "PathTallies")()
	return s.deps.Attestations.PathTallies(ctx, paths)
}

// loadReport fetches and decodes the named report. On failure the response is
// already written.
func (s *Server) loadReport(c *gin.Context) (*model.Report, *sbom.Document, bool) {
	record, err := s.deps.Reports.GetReport(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err, reportNotFound)
		return nil, nil, false
	}
	doc, err := sbom.Parse(record.Definition)
	if err != nil {
		s.fail(c, fmt.Errorf("stored report %q is unreadable: %w", record.Name, err), "")
		return nil, nil, false
	}
	return record, doc, true
}

func (s *Server) listReports(c *gin.Context) {
	names, err := s.deps.Reports.ListReportNames(c.Request.Context())
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) defineReport(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read body"})
		return
	}
	if _, err := sbom.Parse(body); err != nil {
		s.fail(c, err, "")
		return
	}
	if _, err := s.deps.Reports.DefineReport(c.Request.Context(), c.Param("name"), body); err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, []string{"Report defined"})
}

// getReport negotiates on Accept: the stored CycloneDX document, the HTML page,
// the JSON view, or by default the plain text tree.
func (s *Server) getReport(c *gin.Context) {
	record, doc, ok := s.loadReport(c)
	if !ok {
		return
	}
	accept := c.GetHeader("Accept")
	if strings.Contains(accept, sbom.MediaType) {
		c.Data(http.StatusOK, sbom.MediaType, record.Definition)
		return
	}

	ctx := c.Request.Context()
	paths := sbom.ExtractOutputPaths(doc)
	states, err := s.pathSummaries(ctx, paths)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	graph := sbom.GraphOf(doc)

	switch {
	case strings.Contains(accept, "text/html"), strings.Contains(accept, "application/json"):
		patterns, err := s.deps.LinkPatterns.ListLinkPatterns(ctx)
		if err != nil {
			s.fail(c, err, "")
			return
		}
		view := report.Build(report.Input{
			States:       states,
			Derivations:  sbom.OutputToDerivation(doc),
			Root:         doc.Root(),
			Paths:        paths,
			LinkPatterns: patterns,
			Graph:        graph,
		})
		if strings.Contains(accept, "text/html") {
			// the tree is built from escaped fragments
			c.HTML(http.StatusOK, "report.html.tmpl", reportPage{View: view, Tree: template.HTML(view.Tree)}) //nolint:gosec
			return
		}
		c.JSON(http.StatusOK, reportJSON{View: view, Summary: states})
	default:
		var text string
		if graph.HasDependencies() {
			text = render.Text(graph, states)
		} else {
			text = render.FlatText(paths, states)
		}
		c.String(http.StatusOK, text)
	}
}

func (s *Server) getReportSummary(c *gin.Context) {
	_, doc, ok := s.loadReport(c)
	if !ok {
		return
	}
	states, err := s.pathSummaries(c.Request.Context(), sbom.ExtractOutputPaths(doc))
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, states)
}

func (s *Server) getReportGraph(c *gin.Context) {
	_, doc, ok := s.loadReport(c)
	if !ok {
		return
	}
	paths := sbom.ExtractOutputPaths(doc)
	states, err := s.pathSummaries(c.Request.Context(), paths)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, render.Graph(sbom.GraphOf(doc), paths, states))
}

// suggestions returns the elements of the report the caller should rebuild.
func (s *Server) suggestions(c *gin.Context) ([]sbom.Element, bool) {
	_, doc, ok := s.loadReport(c)
	if !ok {
		return nil, false
	}
	elements := sbom.ElementsInOrder(doc)
	byPath := make(map[string]sbom.Element, len(elements))
	candidates := make([]string, 0, len(elements))
	for _, e := range elements {
		byPath[e.OutPath] = e
		candidates = append(candidates, e.OutPath)
	}
	tallies, err := s.pathTallies(c.Request.Context(), candidates)
	if err != nil {
		s.fail(c, err, "")
		return nil, false
	}
	suggested := suggest.Suggest(candidates, tallies, currentSubmitter(c))
	out := make([]sbom.Element, 0, len(suggested))
	for _, p := range suggested {
		out = append(out, byPath[p])
	}
	return out, true
}

func (s *Server) getSuggest(c *gin.Context) {
	elements, ok := s.suggestions(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sample(s, elements))
}

// getSuggested is the deprecated path-only form of getSuggest.
func (s *Server) getSuggested(c *gin.Context) {
	elements, ok := s.suggestions(c)
	if !ok {
		return
	}
	paths := make([]string, 0, len(elements))
	for _, e := range elements {
		paths = append(paths, e.OutPath)
	}
	c.JSON(http.StatusOK, sample(s, paths))
}
