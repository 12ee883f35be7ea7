package parser

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/doctree"
)

func TestDetectHeadings_LatexMarkup(t *testing.T) {
	text := "\\chapter{Introduction}\nbody\n\\section{2.1 Chains}\n\\section{Overview}\n\\subsection{Models}\n\\subsubsection{Details}\n"
	events := DetectHeadings(text)

	want := []struct {
		level int
		title string
	}{
		{1, "Introduction"},
		{2, "2.1 Chains"},
		{1, "Overview"},
		{2, "Models"},
		{3, "Details"},
	}
	require.Len(t, events, len(want), "%+v", events)
	for i, w := range want {
		assert.Equal(t, w.level, events[i].Level, "event[%d] level", i)
		assert.Equal(t, w.title, events[i].Title, "event[%d] title", i)
	}
	assert.Equal(t, 0, events[0].Offset)
	assert.Equal(t, 1, events[0].LineNo)
	assert.Equal(t, len("\\chapter{Introduction}\nbody\n"), events[1].Offset)
}

func TestDetectHeadings_LocalizedAndNumbered(t *testing.T) {
	text := "第3章 高分子链\nChapter 4: Flow\n2.3 Topic\n2.3.1 Subtopic\n"
	events := DetectHeadings(text)

	want := []struct {
		level int
		title string
	}{
		{1, "第3章 高分子链"},
		{1, "Chapter 4 Flow"},
		{2, "2.3 Topic"},
		{3, "2.3.1 Subtopic"},
	}
	require.Len(t, events, len(want), "%+v", events)
	for i, w := range want {
		assert.Equal(t, w.level, events[i].Level, "event[%d] level", i)
		assert.Equal(t, w.title, events[i].Title, "event[%d] title", i)
	}
}

func TestDetectHeadings_SkipsTableEnvironment(t *testing.T) {
	text := "\\begin{tabular}{cc}\n1.2 value & x \\\\\n2.1 Heading inside\n\\end{tabular}\nafter\n"
	assert.Empty(t, DetectHeadings(text), "no headings inside a table")
}

func TestDetectHeadings_RejectsTableRowsOutsideBlock(t *testing.T) {
	lines := []string{
		"0.0133 & 1.2 \\\\",
		"1.2 Result \\times 3",
		"2.4 Ratio \\\\",
		"{|c|c|}",
		"1.1 Introduction ........ 3",
		"1.1 Introduction \\hfill 3",
	}
	for _, line := range lines {
		assert.Empty(t, DetectHeadings(line+"\n"), "line %q", line)
	}
}

func TestStripTOC(t *testing.T) {
	text := "Preface\nContents\n1 Intro 1\n2 Next 5\n---\nBody\n"
	assert.Equal(t, "Preface\nBody\n", StripTOC(text))
}

func TestStripTOC_NoMarker(t *testing.T) {
	text := "Just text\n---\nmore\n"
	assert.Equal(t, text, StripTOC(text))
}

func TestStripPreamble(t *testing.T) {
	text := "\\documentclass{book}\n\\usepackage{amsmath}\n\\begin{document}\nHello\n"
	assert.Equal(t, "\nHello\n", StripPreamble(text))
	assert.Equal(t, "no marker", StripPreamble("no marker"))
}

func TestBuildNodes_NoHeadings(t *testing.T) {
	text := "plain words without any structure at all"
	nodes := BuildNodes("doc", "Doc", text, nil)
	require.Len(t, nodes, 1)
	n := nodes[0]
	assert.Equal(t, "doc::1", n.NodeID)
	assert.Equal(t, FullTextTitle, n.Title)
	assert.Equal(t, 1, n.Level)
	assert.Equal(t, 0, n.StartChar)
	assert.Equal(t, len(text), n.EndChar)
	assert.True(t, n.IsRoot())
	assert.Equal(t, "Doc > full text", n.Breadcrumb())
}

func TestBuildNodes_TreeAndIDs(t *testing.T) {
	text := "\\chapter{1 Introduction}\nintro text\n" +
		"\\section{1.1 Scope}\nscope text\n" +
		"\\subsubsection{Details}\ndetail\n" +
		"\\section{1.2 Limits}\nlimits\n" +
		"\\chapter{Methods}\nmethods text\n" +
		"\\subsection{Setup}\nsetup\n"

	doc := Parse("doc", "Doc", text)
	require.NoError(t, doctree.CheckTree(doc.Nodes))

	wantIDs := []string{"doc::1", "doc::1.1", "doc::1.1.1", "doc::1.2", "doc::2", "doc::2.1"}
	require.Len(t, doc.Nodes, len(wantIDs))
	byID := map[string]doctree.Node{}
	for i, n := range doc.Nodes {
		assert.Equal(t, wantIDs[i], n.NodeID, "node[%d]", i)
		byID[n.NodeID] = n
	}

	assert.Equal(t, "doc::1.1", byID["doc::1.1.1"].ParentID)
	assert.Equal(t, []string{"doc::1.1", "doc::1.2"}, byID["doc::1"].Children)
	assert.Equal(t, byID["doc::2"].StartChar, byID["doc::1"].EndChar, "chapter 1 ends where chapter 2 starts")
	assert.Equal(t, "\\subsubsection{Details}\ndetail", NodeText(doc.Text, byID["doc::1.1.1"]))
	assert.Equal(t, []string{"Doc", "1 Introduction", "1.1 Scope", "Details"}, byID["doc::1.1.1"].PathTitles)
}

func TestBuildNodes_DuplicateChapterLabels(t *testing.T) {
	text := "\\chapter{Chapter 2 A}\na\n\\chapter{Chapter 2 B}\nb\n"
	doc := Parse("d", "D", text)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "d::2", doc.Nodes[0].NodeID, "first chapter keeps its label")
	assert.NotEqual(t, doc.Nodes[0].NodeID, doc.Nodes[1].NodeID)
	require.NoError(t, doctree.CheckTree(doc.Nodes))
}

func TestBuildNodes_OrphanSectionBeforeFirstChapter(t *testing.T) {
	text := "\\subsection{Preface notes}\nx\n\\chapter{Main}\ny\n"
	doc := Parse("d", "D", text)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "d::0.1", doc.Nodes[0].NodeID)
	assert.Equal(t, "d::1", doc.Nodes[1].NodeID)
}

func TestParse_RandomDocumentsKeepTreeInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	headings := []func(i int) string{
		func(i int) string { return fmt.Sprintf("\\chapter{Part %c}", 'A'+rune(i%26)) },
		func(i int) string { return fmt.Sprintf("\\chapter{%d Topic}", i%5+1) },
		func(i int) string { return fmt.Sprintf("\\section{%d.%d Sub}", i%3+1, i%4+1) },
		func(i int) string { return fmt.Sprintf("\\subsection{Aside %d x}", i) },
		func(i int) string { return fmt.Sprintf("%d.%d.%d Deep item", i%3+1, i%2+1, i%4+1) },
		func(i int) string { return "\\subsubsection{Note}" },
	}

	for round := 0; round < 50; round++ {
		var sb strings.Builder
		lines := 5 + rng.IntN(40)
		for i := 0; i < lines; i++ {
			if rng.IntN(3) == 0 {
				sb.WriteString(headings[rng.IntN(len(headings))](i))
			} else {
				sb.WriteString("body text line")
			}
			sb.WriteString("\n")
		}

		doc := Parse("r", "R", sb.String())
		require.NoError(t, doctree.CheckTree(doc.Nodes), "round %d:\n%s", round, sb.String())
		seen := map[string]bool{}
		for _, n := range doc.Nodes {
			require.False(t, seen[n.NodeID], "round %d: duplicate node id %q", round, n.NodeID)
			seen[n.NodeID] = true
		}
	}
}

func TestDocumentID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Polymer Physics (2nd ed.)", "Polymer_Physics_2nd_ed"},
		{"高分子物理 第二版", "高分子物理_第二版"},
		{"__x__", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DocumentID(tt.name), tt.name)
	}
	assert.Len(t, []rune(DocumentID(strings.Repeat("ab", 60))), 80)
}
