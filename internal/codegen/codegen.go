// Package codegen turns a finished reasoning result into code files.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/result"
)

// OutputFile is the raw oracle response saved next to the generated files.
const OutputFile = "codegen_output.json"

// ErrUnsafePath is returned for a code file that would land outside the
// session directory.
var ErrUnsafePath = errors.New("unsafe output path")

// CodeFile is one generated file as returned by the oracle.
type CodeFile struct {
	Path    result.Text `json:"path"`
	Content result.Text `json:"content"`
}

// Artifact is a file written to disk.
type Artifact struct {
	Path    string `json:"path"`     // as requested, relative
	AbsPath string `json:"abs_path"` // where it was written
}

// Output is the decoded generate_code response.
type Output struct {
	EngineChoice         result.Text            `json:"engine_choice"`
	Rationale            result.Text            `json:"rationale"`
	MathDerivation       result.List            `json:"math_derivation"`
	Algorithm            result.List            `json:"algorithm"`
	CodeFiles            result.Items[CodeFile] `json:"code_files"`
	Requirements         result.List            `json:"requirements"`
	RunInstructions      result.List            `json:"run_instructions"`
	ExpectedOutputs      result.List            `json:"expected_outputs"`
	NotesForUserToModify result.List            `json:"notes_for_user_to_modify"`
	Artifacts            []Artifact             `json:"artifacts,omitempty"`
	Raw                  json.RawMessage        `json:"-"`
}

// Generator calls the coding oracle and writes its files under
// <dir>/<session>/.
type Generator struct {
	oracle oracle.Oracle
	dir    string
	log    *slog.Logger
}

func NewGenerator(o oracle.Oracle, dir string, log *slog.Logger) *Generator {
	return &Generator{oracle: o, dir: dir, log: log}
}

type request struct {
	Question    string                          `json:"question"`
	FinalPlan   result.FinalPlan                `json:"final_plan"`
	UsedSources result.Items[result.UsedSource] `json:"used_sources"`
}

// Generate produces code for res. Files with unsafe paths fail the whole call
// before anything is written.
func (g *Generator) Generate(ctx context.Context, res result.Result) (Output, error) {
	log := g.log.With("session_id", res.SessionID)
	raw, err := g.oracle.Invoke(ctx, oracle.TaskGenerateCode, request{
		Question:    res.Question,
		FinalPlan:   res.FinalPlan,
		UsedSources: res.UsedSources,
	})
	if err != nil {
		return Output{}, fmt.Errorf("generate code: %w", err)
	}
	out, err := Decode(raw)
	if err != nil {
		return Output{}, err
	}

	sessionDir := filepath.Join(g.dir, res.SessionID)
	type target struct{ rel, abs, content string }
	var targets []target
	for _, f := range out.CodeFiles {
		rel := strings.TrimSpace(string(f.Path))
		if rel == "" {
			continue
		}
		abs, err := SafeJoin(sessionDir, rel)
		if err != nil {
			return Output{}, err
		}
		targets = append(targets, target{rel: rel, abs: abs, content: string(f.Content)})
	}

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create code dir: %w", err)
	}
	for _, t := range targets {
		if err := os.MkdirAll(filepath.Dir(t.abs), 0o755); err != nil {
			return Output{}, fmt.Errorf("create code dir: %w", err)
		}
		if err := os.WriteFile(t.abs, []byte(t.content), 0o644); err != nil {
			return Output{}, fmt.Errorf("write %s: %w", t.rel, err)
		}
		out.Artifacts = append(out.Artifacts, Artifact{Path: t.rel, AbsPath: t.abs})
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, OutputFile), pretty.Bytes(), 0o644); err != nil {
		return Output{}, fmt.Errorf("write %s: %w", OutputFile, err)
	}

	log.Info("code generated", "engine", string(out.EngineChoice), "files", len(out.Artifacts), "dir", sessionDir)
	return out, nil
}

// Decode reads a generate_code response, defaulting missing fields. The
// engine defaults to python.
func Decode(raw []byte) (Output, error) {
	var out Output
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Output{}, fmt.Errorf("decode code output: %w", result.ErrMalformed)
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return Output{}, fmt.Errorf("decode code output: %w: %v", result.ErrMalformed, err)
	}
	if strings.TrimSpace(string(out.EngineChoice)) == "" {
		out.EngineChoice = "python"
	}
	out.Raw = json.RawMessage(trimmed)
	return out, nil
}

// SafeJoin joins rel under base. Absolute paths are reduced to their base
// name; anything resolving outside base is rejected.
func SafeJoin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		rel = filepath.Base(filepath.FromSlash(rel))
	}
	cleanBase := filepath.Clean(base)
	candidate := filepath.Join(cleanBase, filepath.FromSlash(rel))
	r, err := filepath.Rel(cleanBase, candidate)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return candidate, nil
}
