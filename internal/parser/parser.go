package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Source is a loaded document ready for structural parsing.
type Source struct {
	Title string // Display name; the file stem unless the format carries one.
	Text  string // Raw text using LaTeX-style heading and table markup.
}

// Loader converts raw document bytes into a Source.
type Loader interface {
	Load(r io.Reader, filename string) (Source, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".tex":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate loader for a filename.
func ForFile(filename string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".tex":
		return &TextLoader{}, nil
	case ".md", ".markdown":
		return &MarkdownLoader{}, nil
	case ".csv":
		return &CSVLoader{}, nil
	case ".html", ".htm":
		return &HTMLLoader{}, nil
	case ".pdf":
		return &PDFLoader{FallbackPdftotext: true}, nil
	case ".docx":
		return &DOCXLoader{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Stem strips directory and extension from a filename.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// headingMarkup renders a heading at the given depth (1-based) in the markup
// the structural parser detects. Depth 1 is a chapter, 2 a section and
// anything deeper a subsection.
func headingMarkup(depth int, title string) string {
	title = strings.Join(strings.Fields(title), " ")
	switch {
	case depth <= 1:
		return `\chapter{` + title + "}\n"
	case depth == 2:
		return `\subsection{` + title + "}\n"
	default:
		return `\subsubsection{` + title + "}\n"
	}
}

// tabularBlock renders rows as one tabular environment so the block stays
// atomic through chunking.
func tabularBlock(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`\begin{tabular}{|` + strings.Repeat("l|", cols) + "}\n")
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = strings.Join(strings.Fields(c), " ")
		}
		sb.WriteString(strings.Join(cells, " & "))
		sb.WriteString(` \\` + "\n")
	}
	sb.WriteString(`\end{tabular}` + "\n")
	return sb.String()
}
