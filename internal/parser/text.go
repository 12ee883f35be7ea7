package parser

import (
	"fmt"
	"io"
	"strings"
)

// TextLoader handles plain text and LaTeX sources, which already carry the
// markup the structural parser understands.
type TextLoader struct{}

func (p *TextLoader) Load(r io.Reader, filename string) (Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Source{}, fmt.Errorf("read text: %w", err)
	}
	text := strings.ToValidUTF8(string(data), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return Source{Title: Stem(filename), Text: text}, nil
}
