package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/result"
)

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
		{"", false}, // EOF
		{"y", true}, // EOF without newline
	}
	for _, tt := range tests {
		var out bytes.Buffer
		confirm := promptConfirmer(strings.NewReader(tt.input), &out)
		got, err := confirm(context.Background(), "s1", 2, 120)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Depth 2 selected 120 chunks")
	}
}

func TestPromptConfirmer_ReadsSuccessiveAnswers(t *testing.T) {
	var out bytes.Buffer
	confirm := promptConfirmer(strings.NewReader("y\nn\n"), &out)
	first, _ := confirm(context.Background(), "s1", 1, 90)
	second, _ := confirm(context.Background(), "s1", 2, 95)
	assert.True(t, first)
	assert.False(t, second)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{w: &buf}

	p.StepDone(reasoning.Snapshot{Phase: reasoning.PhaseRetrieveChunks, Depth: 1, MaxDepth: 6, Selected: []string{"a::1"}})
	p.StepDone(reasoning.Snapshot{
		Phase:       reasoning.PhaseFinish,
		Depth:       1,
		MaxDepth:    6,
		Assessments: []result.Assessment{{CanSolve: true, Confidence: 0.9}},
	})

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.EvidenceProgress("s1", 1, n, 4)
		}(i)
	}
	wg.Wait()

	got := buf.String()
	for _, want := range []string{"selected 1 nodes", "can_solve=true confidence=0.90", "evidence"} {
		assert.Contains(t, got, want)
	}
}

func TestPrintResult(t *testing.T) {
	res := result.Result{
		SessionID: "abc12345",
		FinalPlan: result.FinalPlan{Depth: 2},
		Assessment: result.Assessment{
			CanSolve:      true,
			Confidence:    0.8,
			Conclusions:   result.List{"R scales as N^0.6"},
			SolutionSteps: result.Items[result.SolutionStep]{{Step: "Minimize free energy"}},
		},
		UsedSources: result.Items[result.UsedSource]{{NodeID: "polymers::2.3", Breadcrumb: "Polymers > Chains"}},
	}
	snap := pipeline.JobSnapshot{
		ReportPath: "runtime/reports/abc12345.md",
		CodeFiles:  []string{"/tmp/walk.py"},
		Progress:   pipeline.Progress{Errors: []string{"codegen: slow"}},
	}

	var buf bytes.Buffer
	printResult(&buf, res, snap)
	got := buf.String()
	for _, want := range []string{
		"Session:    abc12345",
		"Confidence: 0.80",
		"R scales as N^0.6",
		"1. Minimize free energy",
		"Polymers > Chains (polymers::2.3)",
		"/tmp/walk.py",
		"Report: runtime/reports/abc12345.md",
		"warning: codegen: slow",
	} {
		assert.Contains(t, got, want)
	}
}
