package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// pageSeparator joins PDF pages. It doubles as the terminator of a
// table-of-contents block during cleaning.
const pageSeparator = "\n---\n"

// PDFLoader handles PDF files. It tries the Go library first,
// then falls back to pdftotext if available.
type PDFLoader struct {
	FallbackPdftotext bool
}

func (p *PDFLoader) Load(r io.Reader, filename string) (Source, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "booksage-pdf-*.pdf")
	if err != nil {
		return Source{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return Source{}, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	pages, err := extractPDFPages(tmpPath)
	if err != nil && p.FallbackPdftotext {
		pages, err = extractPdftotext(tmpPath)
	}
	if err != nil {
		return Source{}, fmt.Errorf("extract pdf text: %w", err)
	}

	kept := pages[:0]
	for _, page := range pages {
		if strings.TrimSpace(page) != "" {
			kept = append(kept, strings.TrimRight(page, "\n"))
		}
	}
	return Source{Title: Stem(filename), Text: strings.Join(kept, pageSeparator)}, nil
}

func extractPDFPages(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func extractPdftotext(path string) ([]string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return strings.Split(string(out), "\f"), nil
}
