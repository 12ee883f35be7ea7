package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownLoader_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	p := &MarkdownLoader{}
	src, err := p.Load(strings.NewReader(input), "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "doc", src.Title)

	doc := Parse("doc", src.Title, src.Text)
	wantIDs := []string{"doc::1", "doc::1.1", "doc::1.1.1", "doc::1.2"}
	wantTitles := []string{"Title", "Section A", "Subsection A1", "Section B"}
	require.Len(t, doc.Nodes, len(wantIDs), "text: %q", src.Text)
	for i := range wantIDs {
		assert.Equal(t, wantIDs[i], doc.Nodes[i].NodeID, "node[%d] id", i)
		assert.Equal(t, wantTitles[i], doc.Nodes[i].Title, "node[%d] title", i)
	}

	assert.Contains(t, NodeText(doc.Text, doc.Nodes[0]), "Intro text.")
}

func TestMarkdownLoader_TableBecomesAtomicBlock(t *testing.T) {
	input := "# Data\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\nAfter.\n"
	p := &MarkdownLoader{}
	src, err := p.Load(strings.NewReader(input), "t.md")
	require.NoError(t, err)

	assert.Contains(t, src.Text, "\\begin{tabular}{|l|l|}\na & b \\\\\n1 & 2 \\\\\n\\end{tabular}")
	assert.Contains(t, src.Text, "After.")
}

func TestMarkdownLoader_CodeBlocksKept(t *testing.T) {
	input := "# API\n\n```\nGET /api/users\nPOST /api/users\n```\n\nMore text after code.\n"
	p := &MarkdownLoader{}
	src, err := p.Load(strings.NewReader(input), "api.md")
	require.NoError(t, err)

	assert.Contains(t, src.Text, "GET /api/users\nPOST /api/users")
	assert.Contains(t, src.Text, "More text after code.")
}

func TestMarkdownLoader_NoHeadings(t *testing.T) {
	input := "Just some plain text.\n\nAnother paragraph here."
	p := &MarkdownLoader{}
	src, err := p.Load(strings.NewReader(input), "plain.markdown")
	require.NoError(t, err)
	assert.Equal(t, "plain", src.Title)

	doc := Parse("plain", src.Title, src.Text)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, FullTextTitle, doc.Nodes[0].Title)
}

func TestMarkdownLoader_EmptyInput(t *testing.T) {
	p := &MarkdownLoader{}
	src, err := p.Load(strings.NewReader(""), "empty.md")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(src.Text))
}
