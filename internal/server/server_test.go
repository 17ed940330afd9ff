package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/render"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
	"github.com/lila-repro/lila/pkg/types"
)

const (
	helloPath = "/nix/store/aaaa-hello-2.12.1"
	glibcPath = "/nix/store/bbbb-glibc-2.39"
	idnPath   = "/nix/store/cccc-libidn2-2.3.7"
)

const helloReport = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.4",
  "version": 1,
  "metadata": {"component": {"type": "application", "bom-ref": "/nix/store/aaaa-hello-2.12.1", "name": "hello"}},
  "components": [
    {"type": "application", "bom-ref": "/nix/store/aaaa-hello-2.12.1", "name": "hello",
     "properties": [{"name": "nix:out_path", "value": "/nix/store/aaaa-hello-2.12.1"},
                    {"name": "nix:drv_path", "value": "/nix/store/dddd-hello-2.12.1.drv"},
                    {"name": "nix:output", "value": "out"}]},
    {"type": "library", "bom-ref": "/nix/store/bbbb-glibc-2.39", "name": "glibc",
     "properties": [{"name": "nix:out_path", "value": "/nix/store/bbbb-glibc-2.39"}]},
    {"type": "library", "bom-ref": "/nix/store/cccc-libidn2-2.3.7", "name": "libidn2",
     "properties": [{"name": "nix:out_path", "value": "/nix/store/cccc-libidn2-2.3.7"}]}
  ],
  "dependencies": [
    {"ref": "/nix/store/aaaa-hello-2.12.1", "dependsOn": ["/nix/store/bbbb-glibc-2.39", "/nix/store/cccc-libidn2-2.3.7"]},
    {"ref": "/nix/store/cccc-libidn2-2.3.7", "dependsOn": ["/nix/store/bbbb-glibc-2.39"]}
  ]
}`

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*Server
	db     *gorm.DB
	tokens map[string]string
	runner *fakeRunner
}

type fakeRunner struct {
	jobsets db.JobsetManager
	ran     []uint
	// release, when set, holds Run until it is closed.
	release chan struct{}
	mu      sync.Mutex
}

func (f *fakeRunner) Run(ctx context.Context, evaluationID uint) (*model.Evaluation, error) {
	f.mu.Lock()
	f.ran = append(f.ran, evaluationID)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if err := f.jobsets.StartEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return f.jobsets.CompleteEvaluation(ctx, evaluationID, []external.EvaluatedDerivationDTO{
		{DrvHash: "dddd-hello-2.12.1", AttributePath: "hello", Outputs: map[string]string{"out": helloPath}},
		{DrvHash: "eeee-curl-8.0", AttributePath: "curl", Outputs: map[string]string{"out": "/nix/store/ffff-curl-8.0", "dev": "/nix/store/gggg-curl-8.0-dev"}},
	})
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	attestations, err := db.NewGormAttestationManager(gormDB)
	require.NoError(t, err)
	reports, err := db.NewGormReportManager(gormDB)
	require.NoError(t, err)
	linkPatterns, err := db.NewGormLinkPatternManager(gormDB)
	require.NoError(t, err)
	users, err := db.NewGormUserManager(gormDB)
	require.NoError(t, err)
	jobsets, err := db.NewGormJobsetManager(gormDB)
	require.NoError(t, err)

	ctx := log.WithLogger(context.Background(), &types.MockLogger{})
	tokens := map[string]string{}
	for _, name := range []string{"alice", "bob"} {
		_, token, err := users.CreateUser(ctx, name)
		require.NoError(t, err)
		tokens[name] = token
	}

	runner := &fakeRunner{jobsets: jobsets}
	s, err := New(ctx, Config{}, Dependencies{
		Attestations: attestations,
		Reports:      reports,
		LinkPatterns: linkPatterns,
		Users:        users,
		Jobsets:      jobsets,
		Runner:       runner,
		Rand:         rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	return &testServer{Server: s, db: gormDB, tokens: tokens, runner: runner}
}

// do sends a request as user ("" for anonymous) and returns the recorder.
func (ts *testServer) do(t *testing.T, method, target, user string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) attest(t *testing.T, user, drv, path, hash string) {
	t.Helper()
	body := fmt.Sprintf(`[{"output_path": %q, "output_hash": %q, "output_sig": "sig-%s"}]`, path, hash, user)
	rec := ts.do(t, http.MethodPost, "/attestation/"+drv, user, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(context.Background(), Config{}, Dependencies{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	ts := setupServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	ts := setupServer(t)
	rec := ts.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not found"}`, rec.Body.String())
}

func TestPostAttestationUnauthorized(t *testing.T) {
	ts := setupServer(t)
	body := `[{"output_digest": "aaaa", "output_name": "hello-2.12.1", "output_hash": "H1"}]`

	tests := []struct {
		name    string
		headers []string
	}{
		{name: "no token"},
		{name: "unknown token", headers: []string{"Authorization", "Bearer nope"}},
		{name: "not bearer", headers: []string{"Authorization", "Basic abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/attestation/dddd-hello-2.12.1", "", body, tt.headers...)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"detail":"User not found"}`, rec.Body.String())
		})
	}

	var count int64
	require.NoError(t, ts.db.Model(&model.Attestation{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, ts.db.Model(&model.Derivation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostAttestationInvalidBody(t *testing.T) {
	ts := setupServer(t)
	tests := []struct {
		name   string
		body   string
		fields map[string]string
	}{
		{name: "not json", body: `{`},
		{name: "missing hash", body: `[{"output_path": "/nix/store/aaaa-hello"}]`, fields: map[string]string{"OutputHash": "required"}},
		{name: "bad path", body: `[{"output_path": "hello", "output_hash": "H"}]`},
		{name: "foreign store", body: `[{"output_path": "/gnu/store/aaaa-hello", "output_hash": "H"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/attestation/dddd-hello", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			if tt.fields != nil {
				got := decode[struct {
					Errors map[string]string `json:"errors"`
				}](t, rec)
				assert.Equal(t, tt.fields, got.Errors)
			}
		})
	}
}

func TestDerivationEndpoints(t *testing.T) {
	ts := setupServer(t)
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "H1")
	ts.attest(t, "bob", "dddd-hello-2.12.1.drv", helloPath, "H1")

	rec := ts.do(t, http.MethodGet, "/derivations/dddd-hello-2.12.1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]map[string]int{helloPath: {"H1": 2}}, decode[map[string]map[string]int](t, rec))

	rec = ts.do(t, http.MethodGet, "/derivations/dddd-hello-2.12.1?full=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[[]model.Attestation](t, rec)
	require.Len(t, full, 2)
	assert.Equal(t, "sig-alice", full[0].OutputSig)

	rec = ts.do(t, http.MethodGet, "/derivations/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	derivations := decode[[]model.Derivation](t, rec)
	require.Len(t, derivations, 1)
	assert.Equal(t, "dddd-hello-2.12.1", derivations[0].DrvHash)

	rec = ts.do(t, http.MethodGet, "/attestations/by-output/aaaa-hello-2.12.1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Attestation](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/derivations/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not found"}`, rec.Body.String())
}

func TestNarInfo(t *testing.T) {
	ts := setupServer(t)
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "sha256:abc")

	rec := ts.do(t, http.MethodGet, "/signatures/alice/aaaa.narinfo", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repro.NarInfoContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "StorePath: "+helloPath+"\nURL: no\nNarHash: sha256:abc\nNarSize: 1\nDeriver: dddd-hello-2.12.1.drv\nSig: sig-alice\n", rec.Body.String())

	tests := []struct {
		name   string
		target string
		detail string
	}{
		{name: "unknown user", target: "/signatures/mallory/aaaa.narinfo", detail: "User not found"},
		{name: "no attestation", target: "/signatures/bob/aaaa.narinfo", detail: "Not found"},
		{name: "no suffix", target: "/signatures/alice/aaaa", detail: "Not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.target, "", "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"detail":%q}`, tt.detail), rec.Body.String())
		})
	}
}

func TestLinkPatterns(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/link_patterns?pattern=hello&link=https://issues/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/link_patterns?pattern=(&link=https://issues/1", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/link_patterns?pattern=hello&link=https://issues/1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/link_patterns?pattern=hello&link=https://issues/2", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/link_patterns", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.LinkPattern{{Pattern: "hello", Link: "https://issues/2"}}, decode[[]model.LinkPattern](t, rec))
}

func TestDefineReport(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPut, "/reports/hello", "", helloReport)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPut, "/reports/hello", "alice", `{"bomFormat": "CycloneDX"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/reports/hello", "alice", helloReport)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/reports", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello"}, decode[[]string](t, rec))

	rec = ts.do(t, http.MethodGet, "/reports/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Report not found"}`, rec.Body.String())
}

func TestGetReportFormats(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/reports/hello", "alice", helloReport).Code)
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "H1")
	ts.attest(t, "bob", "dddd-hello-2.12.1", helloPath, "H1")
	ts.attest(t, "alice", "xxxx-glibc-2.39", glibcPath, "G1")

	t.Run("cyclonedx", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/reports/hello", "", "", "Accept", sbom.MediaType)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, sbom.MediaType, rec.Header().Get("Content-Type"))
		assert.JSONEq(t, helloReport, rec.Body.String())
	})

	t.Run("text", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/reports/hello", "", "", "Accept", "text/plain")
		require.Equal(t, http.StatusOK, rec.Code)
		want := "aaaa-hello-2.12.1 Successfully reproduced\n" +
			"  bbbb-glibc-2.39 One build\n" +
			"  cccc-libidn2-2.3.7 No builds\n" +
			"    bbbb-glibc-2.39 " + render.Ellipsis + "\n"
		assert.Equal(t, want, rec.Body.String())
	})

	t.Run("json", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/reports/hello", "", "", "Accept", "application/json")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[reportJSON](t, rec)
		assert.Equal(t, 3, got.View.Total)
		assert.Equal(t, "1 (33.3%)", got.View.ReproducibleN)
		assert.Equal(t, "2 (66.7%)", got.View.NotCheckedN)
		assert.Equal(t, repro.OneBuild, got.Summary[glibcPath])
	})

	t.Run("html", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/reports/hello", "", "", "Accept", "text/html,application/xhtml+xml")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "<h1>hello-2.12.1</h1>")
		assert.Contains(t, body, `<details open>`)
		assert.Contains(t, body, `href="/derivations/dddd-hello-2.12.1"`)
	})
}

func TestReportSummaryAndGraph(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/reports/hello", "alice", helloReport).Code)
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "H1")
	ts.attest(t, "bob", "dddd-hello-2.12.1", helloPath, "H2")

	rec := ts.do(t, http.MethodGet, "/reports/hello/summary", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"/nix/store/aaaa-hello-2.12.1": "ConsistentlyNondeterministic",
		"/nix/store/bbbb-glibc-2.39": "NoBuilds",
		"/nix/store/cccc-libidn2-2.3.7": "NoBuilds"
	}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/reports/hello/graph", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode[render.GraphPayload](t, rec)
	assert.Len(t, payload.Nodes, 3)
	assert.Len(t, payload.Links, 3)
	assert.Equal(t, helloPath, payload.Nodes[0].Path)
}

func TestSuggest(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/reports/hello", "alice", helloReport).Code)
	ts.attest(t, "alice", "xxxx-glibc-2.39", glibcPath, "G1")
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "H1")
	ts.attest(t, "bob", "dddd-hello-2.12.1", helloPath, "H1")

	tests := []struct {
		name string
		user string
		want []string
	}{
		{name: "anonymous", user: "", want: []string{glibcPath, idnPath}},
		{name: "alice skips her own", user: "alice", want: []string{idnPath}},
		{name: "bob", user: "bob", want: []string{glibcPath, idnPath}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/reports/hello/suggested", tt.user, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.ElementsMatch(t, tt.want, decode[[]string](t, rec))

			rec = ts.do(t, http.MethodGet, "/reports/hello/suggest", tt.user, "")
			require.Equal(t, http.StatusOK, rec.Code)
			elements := decode[[]sbom.Element](t, rec)
			paths := make([]string, 0, len(elements))
			for _, e := range elements {
				paths = append(paths, e.OutPath)
			}
			assert.ElementsMatch(t, tt.want, paths)
		})
	}
}

func TestJobsetEndpoints(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/jobsets", "", `{"name": "hello", "flakeref": "github:x/hello"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/jobsets", "alice", `{"name": "hello"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/jobsets", "alice", `{"name": "hello", "flakeref": "github:x/hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	jobset := decode[model.Jobset](t, rec)
	assert.True(t, jobset.Enabled)

	rec = ts.do(t, http.MethodPost, "/api/jobsets", "alice", `{"name": "hello", "flakeref": "github:x/hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	id := fmt.Sprint(jobset.ID)
	rec = ts.do(t, http.MethodPost, "/api/jobsets/"+id+"/disable", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Jobset](t, rec).Enabled)

	rec = ts.do(t, http.MethodPost, "/api/jobsets/"+id+"/evaluate", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/jobsets/"+id+"/enable", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/jobsets/"+id+"/evaluate", "alice", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	evaluation := decode[model.Evaluation](t, rec)
	assert.Equal(t, model.EvaluationPending, evaluation.Status)
	ts.Wait()
	assert.Equal(t, []uint{evaluation.ID}, ts.runner.ran)

	evalID := fmt.Sprint(evaluation.ID)
	rec = ts.do(t, http.MethodGet, "/api/evaluations/"+evalID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[model.Evaluation](t, rec)
	assert.Equal(t, model.EvaluationCompleted, done.Status)
	assert.Equal(t, 2, done.DerivationCount)

	rec = ts.do(t, http.MethodGet, "/api/evaluations/"+evalID+"/derivations", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	derivations := decode[[]evaluationDerivation](t, rec)
	require.Len(t, derivations, 2)
	assert.Equal(t, "curl", derivations[0].AttributePath)
	assert.Equal(t, "/nix/store/eeee-curl-8.0.drv", derivations[0].DrvPath)

	rec = ts.do(t, http.MethodGet, "/api/evaluations/"+evalID+"/sbom", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := sbom.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hello-evaluation-"+evalID, doc.Root())
	assert.Equal(t, []string{"/nix/store/gggg-curl-8.0-dev", "/nix/store/ffff-curl-8.0", helloPath}, sbom.ExtractOutputPaths(doc))

	// the flat export is a valid report definition
	rec = ts.do(t, http.MethodPut, "/reports/eval", "alice", rec.Body.String())
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/reports/eval", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aaaa-hello-2.12.1 No builds\nffff-curl-8.0 No builds\ngggg-curl-8.0-dev No builds\n", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/jobsets/"+id+"/evaluations", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Evaluation](t, rec), 1)

	rec = ts.do(t, http.MethodDelete, "/api/jobsets/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/jobsets/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Jobset not found"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/evaluations/abc", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateWithoutRunner(t *testing.T) {
	ts := setupServer(t)
	ts.deps.Runner = nil
	rec := ts.do(t, http.MethodPost, "/api/jobsets/1/evaluate", "alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGzipLargeResponses(t *testing.T) {
	ts := setupServer(t)
	var components, deps []string
	for i := 0; i < 200; i++ {
		p := fmt.Sprintf("/nix/store/%032d-pkg-%d", i, i)
		components = append(components, fmt.Sprintf(`{"type": "library", "bom-ref": %q, "name": "pkg", "properties": [{"name": "nix:out_path", "value": %q}]}`, p, p))
		deps = append(deps, fmt.Sprintf(`{"ref": %q}`, p))
	}
	body := fmt.Sprintf(`{"bomFormat": "CycloneDX", "specVersion": "1.4", "version": 1,
		"metadata": {"component": {"type": "application", "bom-ref": "big", "name": "big"}},
		"components": [%s], "dependencies": [%s]}`, strings.Join(components, ","), strings.Join(deps, ","))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/reports/big", "alice", body).Code)

	rec := ts.do(t, http.MethodGet, "/reports/big", "", "", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	text, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, 200, strings.Count(string(text), "No builds"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t)
	ts.attest(t, "alice", "dddd-hello-2.12.1", helloPath, "H1")
	ts.do(t, http.MethodGet, "/healthz", "", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `lila_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, body, `lila_attestations_recorded_total 1`)
	assert.Contains(t, body, "lila_evaluations_triggered_total 0")
	assert.Contains(t, body, "lila_evaluations_running 0")
	assert.NotContains(t, body, "lila_lila_")
	assert.NotContains(t, body, `method="method"`)
}

func TestMetricsMeasureLedgerQueries(t *testing.T) {
	ts := setupServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/reports/hello", "alice", helloReport).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/reports/hello/summary", "", "").Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/reports/hello/suggest", "", "").Code)

	body := ts.do(t, http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, body, `lila_function_duration_seconds_count{function="PathSummaries"} 1`)
	assert.Contains(t, body, `lila_function_duration_seconds_count{function="PathTallies"} 1`)
}

func TestMetricsRunningEvaluations(t *testing.T) {
	ts := setupServer(t)
	ts.runner.release = make(chan struct{})

	rec := ts.do(t, http.MethodPost, "/api/jobsets", "alice", `{"name": "hello", "flakeref": "github:x/hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := fmt.Sprint(decode[model.Jobset](t, rec).ID)
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/jobsets/"+id+"/evaluate", "alice", "").Code)

	body := ts.do(t, http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, body, "lila_evaluations_running 1")
	assert.Contains(t, body, "lila_evaluations_triggered_total 1")

	close(ts.runner.release)
	ts.Wait()
	body = ts.do(t, http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, body, "lila_evaluations_running 0")
}
