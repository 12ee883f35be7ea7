package reasoning

import (
	"slices"

	"github.com/google/go-cmp/cmp"

	"github.com/dgallion1/booksage/internal/result"
)

// ChunkMeta locates one stored chunk of a selected node.
type ChunkMeta struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	NodeID       string `json:"node_id"`
	Title        string `json:"title"`
	Breadcrumb   string `json:"breadcrumb"`
	ChunkID      string `json:"chunk_id"`
	ChunkIndex   int    `json:"chunk_index"` // 1-based
	ChunkTotal   int    `json:"chunk_total"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	Path         string `json:"chunk_file"`
}

// Snapshot is the loop state between two steps. Steps never modify a
// snapshot; they return a new one.
type Snapshot struct {
	Phase     Phase
	SessionID string
	Question  string
	Outline   string
	Depth     int
	MaxDepth  int

	History     []result.Classification // one per depth, append only
	Current     *result.Classification
	Selected    []string
	Chunks      []ChunkMeta
	Evidence    []result.EvidenceNote
	Assessments []result.Assessment // one per assessed depth

	Confirmed bool // large-context gate already accepted this session
}

// Latest returns the most recent assessment.
func (s Snapshot) Latest() (result.Assessment, bool) {
	if len(s.Assessments) == 0 {
		return result.Assessment{}, false
	}
	return s.Assessments[len(s.Assessments)-1], true
}

// TotalChunks returns the number of chunks retrieved at the current depth.
func (s Snapshot) TotalChunks() int { return len(s.Chunks) }

func (s Snapshot) clone() Snapshot {
	c := s
	c.History = slices.Clone(s.History)
	c.Selected = slices.Clone(s.Selected)
	c.Chunks = slices.Clone(s.Chunks)
	c.Evidence = slices.Clone(s.Evidence)
	c.Assessments = slices.Clone(s.Assessments)
	return c
}

// Diff lists the snapshot fields that differ between prev and next.
func Diff(prev, next Snapshot) []string {
	var out []string
	add := func(name string, equal bool) {
		if !equal {
			out = append(out, name)
		}
	}
	add("phase", prev.Phase == next.Phase)
	add("session_id", prev.SessionID == next.SessionID)
	add("question", prev.Question == next.Question)
	add("outline", prev.Outline == next.Outline)
	add("depth", prev.Depth == next.Depth)
	add("max_depth", prev.MaxDepth == next.MaxDepth)
	add("history", cmp.Equal(prev.History, next.History))
	add("current", cmp.Equal(prev.Current, next.Current))
	add("selected", cmp.Equal(prev.Selected, next.Selected))
	add("chunks", cmp.Equal(prev.Chunks, next.Chunks))
	add("evidence", cmp.Equal(prev.Evidence, next.Evidence))
	add("assessments", cmp.Equal(prev.Assessments, next.Assessments))
	add("confirmed", prev.Confirmed == next.Confirmed)
	return out
}
