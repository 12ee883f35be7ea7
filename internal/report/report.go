// Package report writes a human-readable markdown report for a session.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/booksage/internal/codegen"
	"github.com/dgallion1/booksage/internal/result"
)

// Truncation limits in characters.
const (
	maxQuestion = 4000
	maxOutline  = 12000
	maxJSON     = 20000
	maxCode     = 30000
)

const truncatedMarker = "\n...(truncated)..."

// Options selects optional report sections.
type Options struct {
	IncludeEvidence bool
	IncludeCode     bool // expand generated file contents
}

// Writer writes report_<session>.md files into a directory.
type Writer struct {
	dir  string
	opts Options
	log  *slog.Logger
}

func NewWriter(dir string, opts Options, log *slog.Logger) *Writer {
	return &Writer{dir: dir, opts: opts, log: log}
}

// Path returns where the report for a session is written.
func (w *Writer) Path(sessionID string) string {
	return filepath.Join(w.dir, "report_"+sessionID+".md")
}

// Write renders the report for res and returns its path. code may be nil.
func (w *Writer) Write(res result.Result, code *codegen.Output) (string, error) {
	md := w.Render(res, code)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := w.Path(res.SessionID)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	w.log.Info("report written", "session_id", res.SessionID, "path", path)
	return path, nil
}

// Render returns the markdown report.
func (w *Writer) Render(res result.Result, code *codegen.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Report - session %s\n\n", res.SessionID)

	b.WriteString("## Question\n\n")
	b.WriteString(truncate(res.Question, maxQuestion))
	b.WriteString("\n\n")

	if res.Outline != "" {
		b.WriteString("## Outline\n\n")
		fence(&b, "text", truncate(res.Outline, maxOutline))
	}

	b.WriteString("## Plan\n\n")
	b.WriteString(res.PlanText)
	b.WriteString("\n\n")

	a := res.Assessment
	b.WriteString("## Assessment\n\n")
	b.WriteString("| can solve | confidence | depth |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| %t | %.2f | %d |\n\n", bool(a.CanSolve), float64(a.Confidence), res.FinalPlan.Depth)
	if len(a.SolutionSteps) > 0 {
		for i, s := range a.SolutionSteps {
			fmt.Fprintf(&b, "%d. %s", i+1, oneLine(string(s.Step)))
			if s.Detail != "" {
				fmt.Fprintf(&b, ": %s", oneLine(string(s.Detail)))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	bullets(&b, "Conclusions", a.Conclusions)
	bullets(&b, "Missing parts", a.MissingParts)

	b.WriteString("## Classifications\n\n")
	fence(&b, "json", truncate(pretty(res.FinalPlan.Classifications), maxJSON))

	b.WriteString("## Assessment detail\n\n")
	fence(&b, "json", truncate(pretty(a), maxJSON))

	b.WriteString("## Sources used\n\n")
	if len(res.UsedSources) > 0 {
		b.WriteString("| document | node | breadcrumb | how used |\n|---|---|---|---|\n")
		for _, u := range res.UsedSources {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(u.DocumentID), cell(u.NodeID), cell(u.Breadcrumb), cell(u.HowUsed))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("None reported.\n\n")
	}

	if w.opts.IncludeEvidence && len(res.EvidenceNotes) > 0 {
		b.WriteString("## Evidence notes\n\n")
		fence(&b, "json", truncate(pretty(res.EvidenceNotes), maxJSON))
	}

	if code != nil {
		b.WriteString("## Code generation\n\n")
		fence(&b, "json", truncate(prettyRaw(code.Raw), maxJSON))
		if w.opts.IncludeCode {
			for _, f := range code.CodeFiles {
				path := string(f.Path)
				if path == "" {
					path = "unknown"
				}
				fmt.Fprintf(&b, "### File: %s\n\n", path)
				fence(&b, language(path), truncate(string(f.Content), maxCode))
			}
		}
	}
	return b.String()
}

// RenderHTML converts a markdown report to HTML.
func RenderHTML(md []byte) ([]byte, error) {
	var buf bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := conv.Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func fence(b *strings.Builder, lang, body string) {
	fmt.Fprintf(b, "```%s\n%s\n```\n\n", lang, strings.TrimRight(body, "\n"))
}

func bullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", oneLine(it))
	}
	b.WriteString("\n")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncatedMarker
}

func pretty(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return buf.String()
}

func prettyRaw(raw json.RawMessage) string {
	var buf bytes.Buffer
	if json.Indent(&buf, raw, "", "  ") != nil {
		return string(raw)
	}
	return buf.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(t result.Text) string {
	s := oneLine(string(t))
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".sh":
		return "bash"
	case ".go":
		return "go"
	case ".json":
		return "json"
	}
	return "text"
}
