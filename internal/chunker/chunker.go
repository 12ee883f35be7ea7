package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/booksage/internal/doctree"
)

// ErrInvalidConfig reports chunk parameters outside 0 <= overlap < size, size > 0, max > 0.
var ErrInvalidConfig = errors.New("invalid chunk config")

// Config controls chunking behavior. All sizes are in characters.
type Config struct {
	Size      int // Maximum length of an ordinary chunk.
	Overlap   int // Characters each ordinary chunk repeats from the one before it.
	MaxChunks int // Output is truncated silently beyond this count.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Size:      12000,
		Overlap:   400,
		MaxChunks: 200,
	}
}

func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, c.Size, c.Overlap)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("%w: max chunks must be positive, got %d", ErrInvalidConfig, c.MaxChunks)
	}
	return nil
}

type segment struct {
	start, end int // rune positions
	atomic     bool
}

// Chunk splits text into ordered chunks. Table-like environments are emitted
// whole as their own chunk. Ordinary text is packed line by line; a run that
// cannot fit is sliced raw with stride Size-Overlap. Every ordinary chunk that
// follows another ordinary chunk starts with the previous chunk's last Overlap
// characters, recorded in Chunk.Overlap. Offsets are exact byte offsets.
func Chunk(text string, cfg Config) ([]doctree.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	s := &splitter{
		text:  text,
		cfg:   cfg,
		bytes: runeOffsets(text),
	}
	for _, seg := range segments(text) {
		if s.full() {
			break
		}
		if seg.atomic {
			s.flush()
			if s.full() {
				break
			}
			s.emit(seg.start, seg.end, 0, true)
			s.reset(seg.end)
			continue
		}
		s.add(seg)
	}
	s.flush()
	return s.chunks, nil
}

// Truncated reports whether chunks stop short of the end of text.
func Truncated(text string, chunks []doctree.Chunk) bool {
	if len(chunks) == 0 {
		return text != ""
	}
	return chunks[len(chunks)-1].EndChar < len(text)
}

type splitter struct {
	text   string
	cfg    Config
	bytes  []int // rune index -> byte offset
	chunks []doctree.Chunk

	bufStart, bufEnd int // current buffer, rune positions
	seed             int // leading runes of the buffer copied from the previous chunk
}

func (s *splitter) full() bool { return len(s.chunks) >= s.cfg.MaxChunks }

func (s *splitter) add(seg segment) {
	n := seg.end - seg.start
	if s.bufLen()+n <= s.cfg.Size {
		s.bufEnd = seg.end
		return
	}
	if n <= s.cfg.Size-s.cfg.Overlap {
		s.flush()
		if s.full() {
			return
		}
		s.bufEnd = seg.end
		return
	}
	// Too long to place whole: slice the buffer raw.
	s.bufEnd = seg.end
	for s.bufLen() > s.cfg.Size && !s.full() {
		end := s.bufStart + s.cfg.Size
		s.emit(s.bufStart, end, s.seed, false)
		s.bufStart = end - s.cfg.Overlap
		s.seed = s.cfg.Overlap
	}
}

// flush emits the buffer if it holds anything beyond its seed and reseeds
// the next buffer from the emitted chunk's tail.
func (s *splitter) flush() {
	if s.bufEnd-s.bufStart <= s.seed || s.full() {
		return
	}
	s.emit(s.bufStart, s.bufEnd, s.seed, false)
	s.seed = min(s.cfg.Overlap, s.bufEnd-s.bufStart)
	s.bufStart = s.bufEnd - s.seed
}

func (s *splitter) reset(pos int) {
	s.bufStart, s.bufEnd, s.seed = pos, pos, 0
}

func (s *splitter) bufLen() int { return s.bufEnd - s.bufStart }

func (s *splitter) emit(start, end, overlap int, atomic bool) {
	b0, b1 := s.bytes[start], s.bytes[end]
	s.chunks = append(s.chunks, doctree.Chunk{
		ID:        fmt.Sprintf("chunk_%d", len(s.chunks)+1),
		Index:     len(s.chunks),
		Text:      s.text[b0:b1],
		StartChar: b0,
		EndChar:   b1,
		Overlap:   overlap,
		Atomic:    atomic,
	})
}

// segments partitions text into line-granular ordinary segments and whole
// atomic blocks. An unterminated block runs to the end of text.
func segments(text string) []segment {
	var out []segment
	pos := 0
	inBlock := false
	blockStart := 0
	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		n := utf8.RuneCountInString(line)
		switch {
		case inBlock:
			if doctree.IsBlockEnd(line) {
				out = append(out, segment{start: blockStart, end: pos + n, atomic: true})
				inBlock = false
			}
		case doctree.IsBlockBegin(line):
			if doctree.IsBlockEnd(line) {
				out = append(out, segment{start: pos, end: pos + n, atomic: true})
			} else {
				inBlock = true
				blockStart = pos
			}
		default:
			out = append(out, segment{start: pos, end: pos + n})
		}
		pos += n
	}
	if inBlock {
		out = append(out, segment{start: blockStart, end: pos, atomic: true})
	}
	return out
}

func runeOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
