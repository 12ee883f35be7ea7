package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/codegen"
	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/doctree"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// oneNodeIndex holds a single section.
type oneNodeIndex struct{}

var chainsNode = knowledge.NodeRecord{
	Node: doctree.Node{
		NodeID:       "bookA::1",
		DocumentID:   "bookA",
		DocumentName: "Book A",
		Title:        "1 Polymer Chains",
		Level:        1,
	},
	Breadcrumb: "Book A > 1 Polymer Chains",
}

func (oneNodeIndex) RenderOutline(int) string { return "[bookA::1] 1 Polymer Chains" }
func (oneNodeIndex) RenderOutlineSubset(ids []string, _ bool, _ int) string {
	return strings.Join(ids, ",")
}
func (oneNodeIndex) NormalizeNodeIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id == chainsNode.NodeID && len(out) == 0 {
			out = append(out, id)
		}
	}
	return out
}
func (oneNodeIndex) NodeRecord(id string) (knowledge.NodeRecord, error) {
	if id != chainsNode.NodeID {
		return knowledge.NodeRecord{}, fmt.Errorf("%w: %s", knowledge.ErrNodeNotFound, id)
	}
	return chainsNode, nil
}
func (x oneNodeIndex) NodeText(id string) (string, error) {
	if _, err := x.NodeRecord(id); err != nil {
		return "", err
	}
	return strings.Repeat("a chain is a random walk\n", 4), nil
}

func answeringOracle(failTask oracle.TaskKind) oracle.Oracle {
	return oracle.Func(func(_ context.Context, task oracle.TaskKind, _ any) (json.RawMessage, error) {
		if task == failTask {
			return nil, fmt.Errorf("%s: provider down", task)
		}
		switch task {
		case oracle.TaskDecompose, oracle.TaskRefine:
			return json.RawMessage(`{"selected_nodes":[{"node_id":"bookA::1","why_relevant":"defines chains"}],"confidence":0.6}`), nil
		case oracle.TaskExtractEvidence:
			return json.RawMessage(`{"relevant_points":["chains are random walks"]}`), nil
		case oracle.TaskIntegrate:
			return json.RawMessage(`{"can_solve":true,"confidence":0.9,"solution_outline":["use R^2 = N b^2"],
				"used_sources":[{"document_id":"bookA","node_id":"bookA::1","how_used":"definition"}]}`), nil
		case oracle.TaskGenerateCode:
			return json.RawMessage(`{"engine_choice":"python","code_files":[{"path":"walk.py","content":"print(1)\n"}]}`), nil
		}
		return nil, fmt.Errorf("unexpected task %s", task)
	})
}

type harness struct {
	orch    *Orchestrator
	jobs    *JobStore
	runtime string
}

func newHarness(t *testing.T, o oracle.Oracle, confirmGE int) *harness {
	t.Helper()
	dir := t.TempDir()
	runtime := filepath.Join(dir, "runtime")

	cfg := config.Defaults()
	cfg.WorkerCount = 2
	cfg.MaxQueueSize = 4

	rc := reasoning.DefaultConfig()
	rc.Chunk = chunker.Config{Size: 60, Overlap: 10, MaxChunks: 10}
	rc.ConfirmChunksGE = confirmGE

	jobs := NewJobStore(time.Hour)
	engine := reasoning.NewEngine(oneNodeIndex{}, o, reasoning.NewChunkStore(runtime), rc, quietLog(),
		reasoning.WithObserver(jobs),
		reasoning.WithConfirmer(jobs),
		reasoning.WithSessionStore(reasoning.NewSessionStore(runtime)),
	)
	w := NewWorker(engine,
		codegen.NewGenerator(o, filepath.Join(dir, "code"), quietLog()),
		report.NewWriter(filepath.Join(dir, "reports"), report.Options{}, quietLog()),
		quietLog())
	return &harness{orch: NewOrchestrator(cfg, jobs, w, quietLog()), jobs: jobs, runtime: runtime}
}

func waitDone(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	require.Eventually(t, func() bool { return job.Snapshot().Status.Done() },
		5*time.Second, 5*time.Millisecond, "job %s did not finish", job.ID)
	return job.Snapshot()
}

func TestOrchestrator_CompletesSession(t *testing.T) {
	h := newHarness(t, answeringOracle(""), 0)
	h.orch.Start(context.Background())
	defer h.orch.Stop()

	job := NewJob("sess-ok", "What is the mean square end-to-end distance?", true)
	require.NoError(t, h.orch.Submit(job))
	snap := waitDone(t, job)

	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Progress.Errors)
	assert.True(t, snap.HasResult)
	assert.Equal(t, 1, snap.Progress.Depth)
	if assert.Len(t, snap.CodeFiles, 1) {
		assert.Equal(t, "walk.py", filepath.Base(snap.CodeFiles[0]))
	}
	assert.FileExists(t, snap.ReportPath)

	res, ok := job.Result()
	require.True(t, ok)
	assert.Equal(t, "sess-ok", res.SessionID)
	assert.FileExists(t, filepath.Join(h.runtime, "sessions", "sess-ok", reasoning.ResultFile))
	assert.Same(t, job, h.orch.GetJob("sess-ok"))
}

func TestOrchestrator_OracleFailureFailsJob(t *testing.T) {
	h := newHarness(t, answeringOracle(oracle.TaskIntegrate), 0)
	h.orch.Start(context.Background())
	defer h.orch.Stop()

	job := NewJob("sess-fail", "q", true)
	require.NoError(t, h.orch.Submit(job))
	snap := waitDone(t, job)

	require.Equal(t, StatusFailed, snap.Status)
	assert.False(t, snap.HasResult, "no result after an oracle failure")
	assert.Equal(t, "integrate", snap.Phase)
	require.NotEmpty(t, snap.Progress.Errors)
	assert.Contains(t, snap.Progress.Errors[0], "provider down")
}

func TestOrchestrator_CodegenFailureStillCompletes(t *testing.T) {
	h := newHarness(t, answeringOracle(oracle.TaskGenerateCode), 0)
	h.orch.Start(context.Background())
	defer h.orch.Stop()

	job := NewJob("sess-nocode", "q", true)
	require.NoError(t, h.orch.Submit(job))
	snap := waitDone(t, job)

	require.Equal(t, StatusCompleted, snap.Status)
	assert.Empty(t, snap.CodeFiles)
	require.Len(t, snap.Progress.Errors, 1)
	assert.True(t, strings.HasPrefix(snap.Progress.Errors[0], "codegen:"), snap.Progress.Errors[0])
	assert.NotEmpty(t, snap.ReportPath, "report is written without code")
}

func TestOrchestrator_DeclinedLargeContextCancels(t *testing.T) {
	h := newHarness(t, answeringOracle(""), 1)
	h.orch.Start(context.Background())
	defer h.orch.Stop()

	job := NewJob("sess-big", "q", false)
	require.NoError(t, h.orch.Submit(job))
	snap := waitDone(t, job)

	require.Equal(t, StatusCancelled, snap.Status)
	assert.False(t, snap.HasResult)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	h := newHarness(t, answeringOracle(""), 0)
	// Not started: nothing drains the queue.
	for i := range 4 {
		require.NoError(t, h.orch.Submit(NewJob(fmt.Sprintf("q%d", i), "q", true)))
	}
	assert.Equal(t, 4, h.orch.QueueDepth())

	overflow := NewJob("overflow", "q", true)
	require.Error(t, h.orch.Submit(overflow))
	snap := overflow.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "queue_full", snap.Phase)
	h.orch.Stop()
}

func TestOrchestrator_StopFailsQueuedJobs(t *testing.T) {
	h := newHarness(t, answeringOracle(""), 0)
	queued := []*Job{NewJob("left-1", "q", true), NewJob("left-2", "q", true)}
	for _, job := range queued {
		require.NoError(t, h.orch.Submit(job))
	}

	h.orch.Stop()

	for _, job := range queued {
		snap := job.Snapshot()
		assert.Equal(t, StatusFailed, snap.Status, job.ID)
		assert.Equal(t, "shutdown", snap.Phase, job.ID)
		assert.Len(t, snap.Progress.Errors, 1, job.ID)
	}
	assert.Zero(t, h.orch.QueueDepth())
}
