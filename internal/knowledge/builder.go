package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/doctree"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/parser"
)

// BuildConfig controls knowledge construction.
type BuildConfig struct {
	BooksDir               string
	Dir                    string // output directory for artifacts
	SummaryLevels          []int
	MaxCharsPerSummaryCall int
	Chunk                  chunker.Config
}

// Builder parses every supported file in the books directory into node
// records, writes per-node text files and, when an oracle is set,
// summarizes the configured levels.
type Builder struct {
	cfg    BuildConfig
	oracle oracle.Oracle // nil disables summaries
	log    *slog.Logger
	now    func() time.Time
}

func NewBuilder(cfg BuildConfig, o oracle.Oracle, log *slog.Logger) *Builder {
	if cfg.MaxCharsPerSummaryCall <= 0 {
		cfg.MaxCharsPerSummaryCall = 20000
	}
	if cfg.Chunk == (chunker.Config{}) {
		cfg.Chunk = chunker.DefaultConfig()
	}
	return &Builder{cfg: cfg, oracle: o, log: log, now: time.Now}
}

// ListSources returns the supported files in the books directory, sorted.
func (b *Builder) ListSources() ([]string, error) {
	entries, err := os.ReadDir(b.cfg.BooksDir)
	if err != nil {
		return nil, fmt.Errorf("read books dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !parser.IsSupportedExtension(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(b.cfg.BooksDir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Build writes the knowledge artifacts. When both artifacts already exist
// and force is false the existing knowledge is returned untouched.
func (b *Builder) Build(ctx context.Context, force bool) (Knowledge, error) {
	kPath := filepath.Join(b.cfg.Dir, KnowledgeFile)
	iPath := filepath.Join(b.cfg.Dir, IndexFile)
	if !force && fileExists(kPath) && fileExists(iPath) {
		b.log.Info("knowledge exists, skipping build", "path", kPath)
		var k Knowledge
		err := readJSON(kPath, &k)
		return k, err
	}

	sources, err := b.ListSources()
	if err != nil {
		return Knowledge{}, err
	}
	if len(sources) == 0 {
		return Knowledge{}, fmt.Errorf("no supported documents in %s (supported: %s)",
			b.cfg.BooksDir, strings.Join(slices.Sorted(maps.Keys(parser.SupportedExtensions)), ", "))
	}

	if err := os.RemoveAll(filepath.Join(b.cfg.Dir, SplitDir)); err != nil {
		return Knowledge{}, fmt.Errorf("clear split dir: %w", err)
	}

	k := Knowledge{GeneratedAt: b.now().UTC().Truncate(time.Second)}
	entries := map[string]IndexEntry{}
	usedIDs := map[string]bool{}

	for _, path := range sources {
		if err := ctx.Err(); err != nil {
			return Knowledge{}, err
		}
		doc, err := b.buildDocument(ctx, path, usedIDs)
		if err != nil {
			return Knowledge{}, err
		}
		for _, n := range doc.Nodes {
			entries[n.NodeID] = entryFor(n)
		}
		k.Documents = append(k.Documents, doc)
	}

	if err := writeJSON(kPath, k); err != nil {
		return Knowledge{}, err
	}
	if err := writeJSON(iPath, entries); err != nil {
		return Knowledge{}, err
	}
	b.log.Info("knowledge built", "documents", len(k.Documents), "nodes", len(entries), "path", kPath)
	return k, nil
}

func (b *Builder) buildDocument(ctx context.Context, path string, usedIDs map[string]bool) (DocumentRecord, error) {
	name := filepath.Base(path)
	loader, err := parser.ForFile(name)
	if err != nil {
		return DocumentRecord{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("open %s: %w", name, err)
	}
	src, err := loader.Load(f, name)
	f.Close()
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("load %s: %w", name, err)
	}

	docID := uniqueID(parser.DocumentID(parser.Stem(name)), usedIDs)
	docName := src.Title
	if docName == "" {
		docName = parser.Stem(name)
	}
	log := b.log.With("document_id", docID, "file", name)
	log.Info("parsing document")

	doc := parser.Parse(docID, docName, src.Text)
	rec := DocumentRecord{DocumentID: docID, DocumentName: docName, SourceFile: path}

	for _, node := range doc.Nodes {
		if err := ctx.Err(); err != nil {
			return DocumentRecord{}, err
		}
		text := parser.NodeText(doc.Text, node)
		rel := filepath.Join(SplitDir, docID, strings.ReplaceAll(node.LocalID, ".", "_")+".txt")
		if err := writeFile(filepath.Join(b.cfg.Dir, rel), []byte(text)); err != nil {
			return DocumentRecord{}, err
		}
		nr := NodeRecord{Node: node, Breadcrumb: node.Breadcrumb(), TextFile: rel}

		if b.oracle != nil && slices.Contains(b.cfg.SummaryLevels, node.Level) {
			summary, err := b.summarize(ctx, rec, node, text)
			if err != nil {
				if ctx.Err() != nil {
					return DocumentRecord{}, ctx.Err()
				}
				log.Warn("summary failed", "node_id", node.NodeID, "error", err)
				nr.SummaryError = err.Error()
			} else {
				nr.Summary = summary
			}
		}
		rec.Nodes = append(rec.Nodes, nr)
	}
	log.Info("document parsed", "nodes", len(rec.Nodes), "chars", len(doc.Text))
	return rec, nil
}

type documentRef struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
}

type nodeRef struct {
	NodeID     string   `json:"node_id"`
	Level      int      `json:"level"`
	Title      string   `json:"title"`
	PathTitles []string `json:"path_titles,omitempty"`
}

type summaryRequest struct {
	Document documentRef `json:"document"`
	Node     nodeRef     `json:"node"`
	Text     string      `json:"text"`
}

type chunkSummaryRequest struct {
	Document documentRef `json:"document"`
	Node     nodeRef     `json:"node"`
	Chunk    struct {
		ChunkID string `json:"chunk_id"`
		Index   int    `json:"chunk_index"`
		Total   int    `json:"chunk_total"`
	} `json:"chunk"`
	Text string `json:"text"`
}

type mergeRequest struct {
	Document       documentRef       `json:"document"`
	Node           nodeRef           `json:"node"`
	ChunkSummaries []json.RawMessage `json:"chunk_summaries"`
}

// summarize produces a node summary. Short text gets one call with a
// short-form retry; long text is summarized per chunk and then merged.
func (b *Builder) summarize(ctx context.Context, doc DocumentRecord, node doctree.Node, text string) (json.RawMessage, error) {
	dref := documentRef{DocumentID: doc.DocumentID, DocumentName: doc.DocumentName}
	nref := nodeRef{NodeID: node.NodeID, Level: node.Level, Title: node.Title, PathTitles: node.PathTitles}

	if len([]rune(text)) <= b.cfg.MaxCharsPerSummaryCall {
		return b.summarizeOnce(ctx, dref, nref, text)
	}

	chunks, err := chunker.Chunk(text, b.cfg.Chunk)
	if err != nil {
		return nil, err
	}
	partials := make([]json.RawMessage, 0, len(chunks))
	for _, ch := range chunks {
		req := chunkSummaryRequest{Document: dref, Node: nref, Text: ch.Text}
		req.Chunk.ChunkID = ch.ID
		req.Chunk.Index = ch.Index + 1
		req.Chunk.Total = len(chunks)
		raw, err := b.oracle.Invoke(ctx, oracle.TaskSummarizeChunk, req)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		partials = append(partials, raw)
	}

	merged, err := b.oracle.Invoke(ctx, oracle.TaskMergeSummaries, mergeRequest{Document: dref, Node: nref, ChunkSummaries: partials})
	if err == nil {
		return merged, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	b.log.Warn("merge failed, retrying with short summary", "node_id", node.NodeID, "error", err)
	joined := joinSummaries(partials)
	if r := []rune(joined); len(r) > b.cfg.MaxCharsPerSummaryCall {
		joined = string(r[:b.cfg.MaxCharsPerSummaryCall])
	}
	return b.oracle.Invoke(ctx, oracle.TaskSummarizeNodeShort, summaryRequest{Document: dref, Node: nref, Text: joined})
}

func (b *Builder) summarizeOnce(ctx context.Context, dref documentRef, nref nodeRef, text string) (json.RawMessage, error) {
	req := summaryRequest{Document: dref, Node: nref, Text: text}
	raw, err := b.oracle.Invoke(ctx, oracle.TaskSummarizeNode, req)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	b.log.Warn("summary failed, retrying short form", "node_id", nref.NodeID, "error", err)
	return b.oracle.Invoke(ctx, oracle.TaskSummarizeNodeShort, req)
}

func joinSummaries(partials []json.RawMessage) string {
	var parts []string
	for _, raw := range partials {
		var s struct {
			Summary any `json:"summary"`
		}
		if json.Unmarshal(raw, &s) == nil && s.Summary != nil {
			parts = append(parts, fmt.Sprint(s.Summary))
		}
	}
	return strings.Join(parts, "\n\n")
}

func uniqueID(id string, used map[string]bool) string {
	if id == "" {
		id = "document"
	}
	candidate := id
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", id, n)
	}
	used[candidate] = true
	return candidate
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, buf.Bytes())
}
