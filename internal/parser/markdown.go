package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownLoader handles Markdown files using goldmark. Headings become
// chapter/section markup and GFM tables become tabular blocks.
type MarkdownLoader struct{}

func (p *MarkdownLoader) Load(r io.Reader, filename string) (Source, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Source{}, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var out strings.Builder
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		writeMarkdownBlock(&out, n, src)
	}
	return Source{Title: Stem(filename), Text: out.String()}, nil
}

func writeMarkdownBlock(out *strings.Builder, n ast.Node, src []byte) {
	switch node := n.(type) {
	case *ast.Heading:
		out.WriteString(headingMarkup(node.Level, inlineText(node, src)))
		out.WriteString("\n")
	case *east.Table:
		out.WriteString(tabularBlock(tableRows(node, src)))
		out.WriteString("\n")
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		out.WriteString(blockLines(n, src))
		out.WriteString("\n")
	case *ast.ThematicBreak:
		out.WriteString("---\n\n")
	case *ast.List, *ast.ListItem, *ast.Blockquote:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			writeMarkdownBlock(out, c, src)
		}
	default:
		t := strings.TrimSpace(inlineText(n, src))
		if t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
}

func tableRows(t *east.Table, src []byte) [][]string {
	var rows [][]string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		rows = append(rows, cells)
	}
	return rows
}

// inlineText concatenates the text of a node's inline children.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return buf.String()
}
