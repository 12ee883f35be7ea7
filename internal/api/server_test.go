package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/doctree"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
	"github.com/dgallion1/booksage/internal/result"
)

const testKey = "secret"

type stubIndex struct{}

func (stubIndex) Len() int { return 1 }
func (stubIndex) RenderOutline(maxLevel int) string {
	return fmt.Sprintf("outline up to %d", maxLevel)
}
func (stubIndex) NodeRecord(id string) (knowledge.NodeRecord, error) {
	if id != "bookA::1.2" {
		return knowledge.NodeRecord{}, fmt.Errorf("%w: %s", knowledge.ErrNodeNotFound, id)
	}
	return knowledge.NodeRecord{
		Node:       doctree.Node{NodeID: id, DocumentID: "bookA", Title: "1.2 Real Chains", Level: 2},
		Breadcrumb: "bookA > 1 Polymer Chains > 1.2 Real Chains",
	}, nil
}
func (x stubIndex) NodeText(id string) (string, error) {
	if _, err := x.NodeRecord(id); err != nil {
		return "", err
	}
	return "excluded volume swells the chain", nil
}

type testServer struct {
	srv      *Server
	orch     *pipeline.Orchestrator
	sessions *reasoning.SessionStore
	reports  *report.Writer
}

func newTestServer(t *testing.T, queueSize int) *testServer {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.MaxQueueSize = queueSize
	cfg.MaxQuestionBytes = 256
	cfg.Providers = []oracle.ProviderConfig{{Name: "anthropic", APIKey: "k"}}

	// Never started: submitted jobs stay queued.
	orch := pipeline.NewOrchestrator(cfg, pipeline.NewJobStore(time.Hour), nil, log)
	sessions := reasoning.NewSessionStore(filepath.Join(dir, "runtime"))
	reports := report.NewWriter(filepath.Join(dir, "reports"), report.Options{}, log)
	stats := oracle.NewStats(time.Hour)
	stats.Record(oracle.TaskDecompose, 120)

	srv := NewServer(Deps{
		Orchestrator: orch,
		Index:        stubIndex{},
		Sessions:     sessions,
		Reports:      reports,
		Stats:        stats,
	}, log, cfg)
	return &testServer{srv: srv, orch: orch, sessions: sessions, reports: reports}
}

func (ts *testServer) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func TestHealth_Public(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestMetrics_Public(t *testing.T) {
	ts := newTestServer(t, 4)
	ts.do(t, http.MethodGet, "/api/sessions/abc12345/status", "", true)
	rec := ts.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	// Requests are labelled by route pattern, not by path.
	assert.Contains(t, rec.Body.String(), `route="/api/sessions/{sessionID}/status"`)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodGet, "/api/knowledge/outline", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge/outline", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token")

	req = httptest.NewRequest(http.MethodGet, "/api/knowledge/outline", nil)
	req.Header.Set("X-API-Key", testKey)
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "X-API-Key header")
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodPost, "/api/sessions", `{"question":"  Why do real chains swell?  ","allow_large_context":false}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	id, _ := body["session_id"].(string)
	require.Len(t, id, 8)
	assert.Equal(t, "/api/sessions/"+id+"/status", body["poll_url"])

	job := ts.orch.GetJob(id)
	require.NotNil(t, job, "job should be registered")
	assert.Equal(t, "Why do real chains swell?", job.Question)
	assert.False(t, job.AllowLargeContext)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/result", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code, "unfinished session has no result")
}

func TestCreateSession_BadRequests(t *testing.T) {
	ts := newTestServer(t, 4)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty question", `{"question":"   "}`, http.StatusBadRequest},
		{"not json", `question?`, http.StatusBadRequest},
		{"too large", `{"question":"` + strings.Repeat("x", 400) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/sessions", tt.body, true)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestCreateSession_QueueFull(t *testing.T) {
	ts := newTestServer(t, 1)
	rec := ts.do(t, http.MethodPost, "/api/sessions", `{"question":"a"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions", `{"question":"b"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionResult_FromDisk(t *testing.T) {
	ts := newTestServer(t, 4)
	res := result.Result{
		SessionID: "abcd1234",
		Question:  "q",
		PlanText:  result.NoPlan,
		FinalPlan: result.FinalPlan{Depth: 2},
	}
	require.NoError(t, ts.sessions.SaveResult(res))

	rec := ts.do(t, http.MethodGet, "/api/sessions/abcd1234/result", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "abcd1234", decode(t, rec)["session_id"])

	rec = ts.do(t, http.MethodGet, "/api/sessions/abcd1234/status", "", true)
	assert.Equal(t, "completed", decode(t, rec)["status"], "status comes from disk")

	rec = ts.do(t, http.MethodGet, "/api/sessions/nope/result", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/sessions/nope/status", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionReport(t *testing.T) {
	ts := newTestServer(t, 4)
	res := result.Result{SessionID: "rep00001", Question: "How big is a coil?"}
	_, err := ts.reports.Write(res, nil)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/sessions/rep00001/report", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "How big is a coil?")

	rec = ts.do(t, http.MethodGet, "/api/sessions/rep00001/report?format=md", "", true)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown"))

	rec = ts.do(t, http.MethodGet, "/api/sessions/missing/report", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOutline(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodGet, "/api/knowledge/outline?max_level=3", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "outline up to 3", decode(t, rec)["outline"])

	rec = ts.do(t, http.MethodGet, "/api/knowledge/outline", "", true)
	assert.Equal(t, float64(2), decode(t, rec)["max_level"], "default max level")

	rec = ts.do(t, http.MethodGet, "/api/knowledge/outline?max_level=x", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNode(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodGet, "/api/knowledge/nodes/bookA::1.2?text=true", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "excluded volume swells the chain", body["text"])
	node, _ := body["node"].(map[string]any)
	assert.Equal(t, "bookA > 1 Polymer Chains > 1.2 Real Chains", node["breadcrumb"])

	rec = ts.do(t, http.MethodGet, "/api/knowledge/nodes/bookA::9", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLLMStats(t *testing.T) {
	ts := newTestServer(t, 4)
	rec := ts.do(t, http.MethodGet, "/api/stats/llm", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	stats, _ := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["count"])
	byTask, _ := body["by_task"].(map[string]any)
	assert.Contains(t, byTask, "decompose")
}
