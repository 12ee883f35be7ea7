package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Index is a read-only view of built knowledge. It is safe for concurrent
// use once loaded.
type Index struct {
	dir       string
	knowledge Knowledge
	records   map[string]*NodeRecord
	entries   map[string]IndexEntry
}

// Load reads the knowledge artifacts from dir. Missing files are reported
// as ErrArtifactMissing.
func Load(dir string) (*Index, error) {
	var k Knowledge
	if err := readJSON(filepath.Join(dir, KnowledgeFile), &k); err != nil {
		return nil, err
	}
	entries := map[string]IndexEntry{}
	if err := readJSON(filepath.Join(dir, IndexFile), &entries); err != nil {
		return nil, err
	}
	return newIndex(dir, k, entries), nil
}

func newIndex(dir string, k Knowledge, entries map[string]IndexEntry) *Index {
	idx := &Index{
		dir:       dir,
		knowledge: k,
		records:   map[string]*NodeRecord{},
		entries:   entries,
	}
	for d := range idx.knowledge.Documents {
		nodes := idx.knowledge.Documents[d].Nodes
		for i := range nodes {
			idx.records[nodes[i].NodeID] = &nodes[i]
		}
	}
	return idx
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s (run the build step first)", ErrArtifactMissing, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Dir returns the knowledge directory.
func (x *Index) Dir() string { return x.dir }

// Len returns the number of nodes.
func (x *Index) Len() int { return len(x.records) }

// Documents returns the document records in build order.
func (x *Index) Documents() []DocumentRecord { return x.knowledge.Documents }

// Has reports whether id names a known node.
func (x *Index) Has(id string) bool {
	_, ok := x.records[id]
	return ok
}

// NodeRecord returns the full record for id.
func (x *Index) NodeRecord(id string) (NodeRecord, error) {
	r, ok := x.records[id]
	if !ok {
		return NodeRecord{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return *r, nil
}

// Entry returns the index entry for id.
func (x *Index) Entry(id string) (IndexEntry, error) {
	e, ok := x.entries[id]
	if !ok {
		return IndexEntry{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return e, nil
}

// NodeText reads the persisted full text of a node.
func (x *Index) NodeText(id string) (string, error) {
	e, err := x.Entry(id)
	if err != nil {
		return "", err
	}
	path := e.TextFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(x.dir, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: text file for %s: %s", ErrArtifactMissing, id, path)
	}
	if err != nil {
		return "", fmt.Errorf("read node text %s: %w", id, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// RenderOutline lists every node up to maxLevel, indented by depth and
// grouped by document in tree order. maxLevel <= 0 means all levels.
func (x *Index) RenderOutline(maxLevel int) string {
	var lines []string
	for _, doc := range x.knowledge.Documents {
		lines = append(lines, fmt.Sprintf("=== DOCUMENT: %s (document_id=%s) ===", doc.DocumentName, doc.DocumentID))
		children := map[string][]*NodeRecord{}
		for i := range doc.Nodes {
			n := &doc.Nodes[i]
			if maxLevel > 0 && n.Level > maxLevel {
				continue
			}
			children[n.ParentID] = append(children[n.ParentID], n)
		}
		var walk func(parent string, indent int)
		walk = func(parent string, indent int) {
			for _, n := range children[parent] {
				lines = append(lines, outlineLine(indent, n))
				walk(n.NodeID, indent+1)
			}
		}
		walk("", 0)
		lines = append(lines, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RenderOutlineSubset renders only the given nodes and, optionally, their
// descendants up to maxLevel. Unknown ids are skipped and each node appears once.
func (x *Index) RenderOutlineSubset(ids []string, includeChildren bool, maxLevel int) string {
	var lines []string
	seen := map[string]bool{}
	var add func(id string, indent int)
	add = func(id string, indent int) {
		if seen[id] {
			return
		}
		seen[id] = true
		n, ok := x.records[id]
		if !ok || (maxLevel > 0 && n.Level > maxLevel) {
			return
		}
		lines = append(lines, outlineLine(indent, n))
		if includeChildren {
			for _, c := range n.Children {
				add(c, indent+1)
			}
		}
	}
	for _, id := range ids {
		if x.Has(id) {
			add(id, 0)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func outlineLine(indent int, n *NodeRecord) string {
	return strings.Repeat("  ", indent) + "[" + n.NodeID + "] " + n.Title
}

// NormalizeNodeIDs keeps known ids, drops duplicates and preserves order.
func (x *Index) NormalizeNodeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if x.Has(id) && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
