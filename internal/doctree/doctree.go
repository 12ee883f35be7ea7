package doctree

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Node is one heading-delimited span of a parsed document.
type Node struct {
	NodeID       string   `json:"node_id"`    // "<document_id>::<local_id>"
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	LocalID      string   `json:"local_id"`   // Dotted path, e.g. "2.3.1"
	Level        int      `json:"level"`      // 1=chapter, 2=section, 3=subsection
	Title        string   `json:"title"`
	ParentID     string   `json:"parent_id,omitempty"`
	Children     []string `json:"children"`
	StartChar    int      `json:"start_char"` // Byte offset into the cleaned text.
	EndChar      int      `json:"end_char"`   // Exclusive.
	PathTitles   []string `json:"path_titles"`
}

// Breadcrumb renders the node's path, e.g. "Polymer Physics > Chapter 2 > 2.1 Chains".
func (n Node) Breadcrumb() string {
	if len(n.PathTitles) == 0 {
		return n.Title
	}
	return strings.Join(n.PathTitles, " > ")
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.ParentID == "" }

// Document is a parsed source: its cleaned text plus the flat node list in
// document order.
type Document struct {
	ID    string
	Name  string
	Text  string
	Nodes []Node
}

// HeadingEvent is one detected heading line.
type HeadingEvent struct {
	Level   int
	Title   string
	LineNo  int // 1-based
	Offset  int // Byte offset of the line start.
	RawLine string
}

// Chunk is a bounded slice of node text sent to the oracle in one call.
type Chunk struct {
	ID        string `json:"chunk_id"` // "chunk_1", "chunk_2", ...
	Index     int    `json:"index"`    // 0-based
	Text      string `json:"text"`
	StartChar int    `json:"start_char"` // Byte offsets into the source text.
	EndChar   int    `json:"end_char"`
	Overlap   int    `json:"overlap"` // Leading characters repeated from the previous chunk.
	Atomic    bool   `json:"atomic,omitempty"`
}

// NodeIDFor joins a document id and a local id.
func NodeIDFor(documentID, localID string) string {
	return documentID + "::" + localID
}

var (
	blockBeginRe = regexp.MustCompile(`\\begin\{(array|tabular|table|longtable)\}`)
	blockEndRe   = regexp.MustCompile(`\\end\{(array|tabular|table|longtable)\}`)
)

// IsBlockBegin reports whether a line opens an atomic table-like environment.
func IsBlockBegin(line string) bool { return blockBeginRe.MatchString(line) }

// IsBlockEnd reports whether a line closes an atomic table-like environment.
func IsBlockEnd(line string) bool { return blockEndRe.MatchString(line) }

// CheckTree validates the structural invariants of one document's nodes:
// unique ids, consistent parent/child references, unique sibling local ids,
// ordered disjoint sibling ranges contained in the parent range.
func CheckTree(nodes []Node) error {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.NodeID]; dup {
			return fmt.Errorf("duplicate node id %q", n.NodeID)
		}
		if n.StartChar > n.EndChar {
			return fmt.Errorf("node %q: start %d after end %d", n.NodeID, n.StartChar, n.EndChar)
		}
		byID[n.NodeID] = n
	}

	var roots []string
	for _, n := range nodes {
		if n.IsRoot() {
			roots = append(roots, n.NodeID)
			continue
		}
		p, ok := byID[n.ParentID]
		if !ok {
			return fmt.Errorf("node %q: unknown parent %q", n.NodeID, n.ParentID)
		}
		if !slices.Contains(p.Children, n.NodeID) {
			return fmt.Errorf("node %q missing from children of %q", n.NodeID, p.NodeID)
		}
	}

	if err := checkSiblings(roots, byID, nil); err != nil {
		return err
	}
	for _, n := range nodes {
		for _, cid := range n.Children {
			c, ok := byID[cid]
			if !ok {
				return fmt.Errorf("node %q: unknown child %q", n.NodeID, cid)
			}
			if c.ParentID != n.NodeID {
				return fmt.Errorf("child %q of %q points at parent %q", cid, n.NodeID, c.ParentID)
			}
		}
		parent := n
		if err := checkSiblings(n.Children, byID, &parent); err != nil {
			return err
		}
	}
	return nil
}

func checkSiblings(ids []string, byID map[string]Node, parent *Node) error {
	locals := make(map[string]bool, len(ids))
	prevEnd := -1
	for _, id := range ids {
		c := byID[id]
		if locals[c.LocalID] {
			return fmt.Errorf("duplicate sibling local id %q", c.LocalID)
		}
		locals[c.LocalID] = true
		if c.StartChar < prevEnd {
			return fmt.Errorf("node %q overlaps its previous sibling", id)
		}
		prevEnd = c.EndChar
		if parent == nil {
			continue
		}
		if c.StartChar < parent.StartChar || c.EndChar > parent.EndChar {
			return fmt.Errorf("node %q [%d,%d) escapes parent %q [%d,%d)",
				id, c.StartChar, c.EndChar, parent.NodeID, parent.StartChar, parent.EndChar)
		}
	}
	return nil
}
