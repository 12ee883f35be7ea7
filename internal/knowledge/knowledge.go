// Package knowledge builds and serves the parsed document corpus: node
// records with optional summaries, a flat node index, and per-node text files.
package knowledge

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgallion1/booksage/internal/doctree"
)

// Artifact names inside the knowledge directory.
const (
	KnowledgeFile = "s0_knowledge.json"
	IndexFile     = "content_index.json"
	SplitDir      = "split"
)

var (
	// ErrNodeNotFound is returned for a node id absent from the index.
	ErrNodeNotFound = errors.New("node not found")
	// ErrArtifactMissing is returned when knowledge files have not been built.
	ErrArtifactMissing = errors.New("knowledge artifact missing")
)

// NodeRecord is a node as persisted in the knowledge file.
type NodeRecord struct {
	doctree.Node
	Breadcrumb   string          `json:"breadcrumb"`
	TextFile     string          `json:"text_file"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	SummaryError string          `json:"summary_error,omitempty"`
}

// DocumentRecord groups the nodes of one source document in tree order.
type DocumentRecord struct {
	DocumentID   string       `json:"document_id"`
	DocumentName string       `json:"document_name"`
	SourceFile   string       `json:"source_file"`
	Nodes        []NodeRecord `json:"nodes"`
}

// Knowledge is the content of the knowledge file.
type Knowledge struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Documents   []DocumentRecord `json:"documents"`
}

// IndexEntry is the lightweight pointer record for one node.
type IndexEntry struct {
	NodeID       string `json:"node_id"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	LocalID      string `json:"local_id"`
	Level        int    `json:"level"`
	Title        string `json:"title"`
	Breadcrumb   string `json:"breadcrumb"`
	TextFile     string `json:"text_file"`
}

func entryFor(r NodeRecord) IndexEntry {
	return IndexEntry{
		NodeID:       r.NodeID,
		DocumentID:   r.DocumentID,
		DocumentName: r.DocumentName,
		LocalID:      r.LocalID,
		Level:        r.Level,
		Title:        r.Title,
		Breadcrumb:   r.Breadcrumb,
		TextFile:     r.TextFile,
	}
}
