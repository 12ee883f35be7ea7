package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/doctree"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/oracle"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeIndex struct {
	order   []string
	records map[string]knowledge.NodeRecord
	texts   map[string]string
}

func newFakeIndex() *fakeIndex {
	x := &fakeIndex{records: map[string]knowledge.NodeRecord{}, texts: map[string]string{}}
	x.add("bookA::1", "1 Polymer Chains", strings.Repeat("chain line of text\n", 6))
	x.add("bookA::1.1", "1.1 Ideal Chains", "ideal chains are random walks\n")
	x.add("bookA::2", "2 Rheology", strings.Repeat("flow line\n", 3))
	return x
}

func (x *fakeIndex) add(id, title, text string) {
	x.order = append(x.order, id)
	x.records[id] = knowledge.NodeRecord{
		Node: doctree.Node{
			NodeID:       id,
			DocumentID:   "bookA",
			DocumentName: "Book A",
			Title:        title,
			Level:        strings.Count(id, ".") + 1,
		},
		Breadcrumb: "Book A > " + title,
	}
	x.texts[id] = text
}

func (x *fakeIndex) RenderOutline(maxLevel int) string {
	var lines []string
	for _, id := range x.order {
		if r := x.records[id]; maxLevel <= 0 || r.Level <= maxLevel {
			lines = append(lines, "["+id+"] "+r.Title)
		}
	}
	return strings.Join(lines, "\n")
}

func (x *fakeIndex) RenderOutlineSubset(ids []string, _ bool, _ int) string {
	return strings.Join(ids, ",")
}

func (x *fakeIndex) NormalizeNodeIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := x.records[id]; ok && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (x *fakeIndex) NodeRecord(id string) (knowledge.NodeRecord, error) {
	r, ok := x.records[id]
	if !ok {
		return knowledge.NodeRecord{}, fmt.Errorf("%w: %s", knowledge.ErrNodeNotFound, id)
	}
	return r, nil
}

func (x *fakeIndex) NodeText(id string) (string, error) {
	if _, err := x.NodeRecord(id); err != nil {
		return "", err
	}
	return x.texts[id], nil
}

type call struct {
	task    oracle.TaskKind
	payload map[string]any
}

// scriptedOracle answers each task from per-depth scripts.
type scriptedOracle struct {
	mu       sync.Mutex
	calls    []call
	classify func(depth int) string
	assess   func(depth int) string
	fail     map[oracle.TaskKind]error
}

func (o *scriptedOracle) Invoke(_ context.Context, task oracle.TaskKind, request any) (json.RawMessage, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.calls = append(o.calls, call{task: task, payload: m})
	o.mu.Unlock()

	if err := o.fail[task]; err != nil {
		return nil, err
	}
	depth, _ := m["depth"].(float64)
	switch task {
	case oracle.TaskDecompose, oracle.TaskRefine:
		return json.RawMessage(o.classify(int(depth))), nil
	case oracle.TaskExtractEvidence:
		src, _ := m["source"].(map[string]any)
		return json.RawMessage(fmt.Sprintf(`{"relevant_points":["point from %v %v"]}`, src["node_id"], src["chunk_id"])), nil
	case oracle.TaskIntegrate:
		return json.RawMessage(o.assess(int(depth))), nil
	}
	return nil, fmt.Errorf("unexpected task %s", task)
}

func (o *scriptedOracle) count(task oracle.TaskKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		if c.task == task {
			n++
		}
	}
	return n
}

func (o *scriptedOracle) last(task oracle.TaskKind) map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.calls) - 1; i >= 0; i-- {
		if o.calls[i].task == task {
			return o.calls[i].payload
		}
	}
	return nil
}

func selecting(ids ...string) func(int) string {
	return func(depth int) string {
		var nodes []string
		for _, id := range ids {
			nodes = append(nodes, fmt.Sprintf(`{"node_id":%q,"why_relevant":"needed","priority":1}`, id))
		}
		return fmt.Sprintf(`{"depth":%d,"selected_nodes":[%s],"confidence":0.5}`, depth, strings.Join(nodes, ","))
	}
}

func solvableAt(at int) func(int) string {
	return func(depth int) string {
		if depth >= at {
			return `{"can_solve":true,"confidence":0.9,"solution_outline":["derive R_g"],
				"used_sources":[{"document_id":"bookA","node_id":"bookA::1","node_path":"Book A > 1 Polymer Chains","how_used":"definition"}]}`
		}
		return `{"can_solve":false,"confidence":0.3,"missing_parts":["excluded volume"],
			"refine_suggestion":{"need_deeper_nodes":["bookA::1.1"],"reason":"need detail"}}`
	}
}

func never(int) string {
	return `{"can_solve":false,"confidence":0.2,"missing_parts":["everything"]}`
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Chunk = chunker.Config{Size: 50, Overlap: 10, MaxChunks: 20}
	cfg.ConfirmChunksGE = 0
	return cfg
}

func newTestEngine(t *testing.T, o oracle.Oracle, cfg Config, opts ...Option) (*Engine, *SessionStore) {
	t.Helper()
	runtime := t.TempDir()
	sessions := NewSessionStore(runtime)
	opts = append([]Option{WithSessionStore(sessions), WithSessionIDs(func() string { return "sess0001" })}, opts...)
	return NewEngine(newFakeIndex(), o, NewChunkStore(runtime), cfg, quietLog(), opts...), sessions
}
