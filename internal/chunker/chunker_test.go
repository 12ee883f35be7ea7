package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/doctree"
)

// rebuild drops each chunk's overlap prefix and joins the rest.
func rebuild(chunks []doctree.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		runes := []rune(c.Text)
		sb.WriteString(string(runes[c.Overlap:]))
	}
	return sb.String()
}

func TestChunk_RawSlicingRespectsMaxChunks(t *testing.T) {
	text := strings.Repeat("a", 500)
	chunks, err := Chunk(text, Config{Size: 100, Overlap: 20, MaxChunks: 3})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	spans := [][2]int{{0, 100}, {80, 180}, {160, 260}}
	for i, c := range chunks {
		assert.Equal(t, spans[i], [2]int{c.StartChar, c.EndChar}, "chunk %d span", i)
		assert.Equal(t, fmt.Sprintf("chunk_%d", i+1), c.ID)
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, []int{0, 20, 20}, []int{chunks[0].Overlap, chunks[1].Overlap, chunks[2].Overlap})
	assert.True(t, Truncated(text, chunks), "expected output to be reported as truncated")
}

func TestChunk_LinePackingReconstructs(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "line %02d %s\n", i, strings.Repeat("x", 21))
	}
	text := sb.String()
	cfg := Config{Size: 100, Overlap: 20, MaxChunks: 100}

	chunks, err := Chunk(text, cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.Size, "chunk %d too long", i)
		assert.Equal(t, c.Text, text[c.StartChar:c.EndChar], "chunk %d offsets", i)
		if i > 0 {
			assert.Equal(t, cfg.Overlap, c.Overlap, "chunk %d overlap", i)
			assert.True(t, strings.HasSuffix(chunks[i-1].Text, c.Text[:c.Overlap]),
				"chunk %d: overlap prefix is not the tail of chunk %d", i, i-1)
		}
	}
	assert.Equal(t, text, rebuild(chunks))
	assert.False(t, Truncated(text, chunks), "expected full coverage")
}

func TestChunk_TableKeptWhole(t *testing.T) {
	table := "\\begin{tabular}{|l|l|}\n" + strings.Repeat("cell & value \\\\\n", 12) + "\\end{tabular}\n"
	text := strings.Repeat("before text here\n", 4) + table + strings.Repeat("after text here\n", 4)
	cfg := Config{Size: 60, Overlap: 10, MaxChunks: 50}

	chunks, err := Chunk(text, cfg)
	require.NoError(t, err)

	found := 0
	for _, c := range chunks {
		if strings.Contains(c.Text, "\\begin{tabular}") {
			found++
			assert.True(t, c.Atomic, "table chunk should be atomic")
			assert.Equal(t, table, c.Text)
			assert.Zero(t, c.Overlap, "atomic chunks carry no overlap")
		} else {
			assert.NotContains(t, c.Text, "\\end{tabular}", "table end leaked into an ordinary chunk")
		}
	}
	require.Equal(t, 1, found, "expected the table in exactly one chunk")
	assert.Equal(t, text, rebuild(chunks))
}

func TestChunk_UnterminatedTableRunsToEnd(t *testing.T) {
	text := "intro\n\\begin{table}\nrow 1\nrow 2\n"
	chunks, err := Chunk(text, Config{Size: 100, Overlap: 10, MaxChunks: 10})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, last.Atomic)
	assert.Equal(t, len(text), last.EndChar)
}

func TestChunk_TableAfterFlushRespectsMaxChunks(t *testing.T) {
	text := "intro line\n\\begin{tabular}{|l|}\nx \\\\\n\\end{tabular}\ntail line\n"

	chunks, err := Chunk(text, Config{Size: 100, Overlap: 10, MaxChunks: 1})
	require.NoError(t, err)
	require.Len(t, chunks, 1, "%+v", chunks)
	assert.Equal(t, "intro line\n", chunks[0].Text)
	assert.False(t, chunks[0].Atomic)
	assert.True(t, Truncated(text, chunks), "expected output to be reported as truncated")

	chunks, err = Chunk(text, Config{Size: 100, Overlap: 10, MaxChunks: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 2, "%+v", chunks)
	assert.True(t, chunks[1].Atomic, "second chunk should be the table")
}

func TestChunk_MultibyteOffsets(t *testing.T) {
	text := strings.Repeat("高分子链的构象", 30)
	cfg := Config{Size: 50, Overlap: 5, MaxChunks: 100}
	chunks, err := Chunk(text, cfg)
	require.NoError(t, err)

	for i, c := range chunks {
		require.True(t, utf8.ValidString(c.Text), "chunk %d is not valid UTF-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.Size, "chunk %d too long", i)
		assert.Equal(t, c.Text, text[c.StartChar:c.EndChar], "chunk %d byte offsets", i)
	}
	assert.Equal(t, text, rebuild(chunks))
}

func TestChunk_Empty(t *testing.T) {
	chunks, err := Chunk("", DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.False(t, Truncated("", chunks), "empty text cannot be truncated")
}

func TestConfig_Validate(t *testing.T) {
	bad := []Config{
		{Size: 0, Overlap: 0, MaxChunks: 1},
		{Size: 10, Overlap: 10, MaxChunks: 1},
		{Size: 10, Overlap: -1, MaxChunks: 1},
		{Size: 10, Overlap: 2, MaxChunks: 0},
	}
	for _, cfg := range bad {
		_, err := Chunk("text", cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "config %+v", cfg)
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 3, EstimateTokens("one two three"))
	assert.Equal(t, 3, EstimateTokens("高分子"))
	assert.Equal(t, 1, EstimateTokens("x"))
}
