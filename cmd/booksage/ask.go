package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/booksage/internal/app"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/result"
)

var (
	askYes      bool
	askNoCode   bool
	askNoReport bool
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the built knowledge",
	Long: `Runs the reasoning loop for one question, then writes generated code and
a Markdown report under the runtime directory.

When a depth selects more chunks than require_confirm_if_total_chunks_ge,
ask prompts before reading them. Use --yes to skip the prompt.

Examples:
  booksage ask "Derive the Flory exponent for a chain in a good solvent"
  booksage ask --yes --no-code "What is the glass transition?"
  booksage ask --json "..." > result.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Read large contexts without asking")
	askCmd.Flags().BoolVar(&askNoCode, "no-code", false, "Skip code generation")
	askCmd.Flags().BoolVar(&askNoReport, "no-report", false, "Skip the Markdown report")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("question is empty")
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if askNoCode {
		cfg.Output.GenerateCode = false
	}
	if askNoReport {
		cfg.Output.WriteReport = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	idx, err := knowledge.Load(cfg.Knowledge.Dir)
	if errors.Is(err, knowledge.ErrArtifactMissing) {
		return fmt.Errorf("%w (run booksage build first)", err)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := app.NewOracle(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer o.Close()

	var confirmer reasoning.Confirmer = reasoning.AutoConfirm(true)
	if !askYes {
		confirmer = promptConfirmer(os.Stdin, cmd.ErrOrStderr())
	}
	comps := app.NewComponents(cfg, idx, o, log,
		reasoning.WithConfirmer(confirmer),
		reasoning.WithObserver(&progressPrinter{w: cmd.ErrOrStderr()}),
	)

	job := pipeline.NewJob(reasoning.NewSessionID(), question, askYes)
	comps.Worker(log).Process(ctx, job)

	snap := job.Snapshot()
	switch snap.Status {
	case pipeline.StatusCancelled:
		fmt.Fprintf(cmd.ErrOrStderr(), "session %s cancelled\n", snap.ID)
		return reasoning.ErrCancelled
	case pipeline.StatusFailed:
		return fmt.Errorf("session %s failed at %s: %s", snap.ID, snap.Phase, strings.Join(snap.Progress.Errors, "; "))
	}

	res, _ := job.Result()
	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(cmd.OutOrStdout(), res, snap)
	return nil
}

// promptConfirmer asks on out and reads the answer from in. Anything but
// y or yes declines, including EOF.
func promptConfirmer(in io.Reader, out io.Writer) reasoning.ConfirmFunc {
	r := bufio.NewReader(in)
	return func(_ context.Context, _ string, depth, totalChunks int) (bool, error) {
		fmt.Fprintf(out, "Depth %d selected %d chunks. Continue? [y/N] ", depth, totalChunks)
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// progressPrinter reports loop progress on a terminal. Evidence progress
// arrives from parallel extraction, so writes are serialized.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressPrinter) StepDone(s reasoning.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch s.Phase {
	case reasoning.PhaseRetrieveChunks:
		fmt.Fprintf(p.w, "[depth %d/%d] selected %d nodes\n", s.Depth, s.MaxDepth, len(s.Selected))
	case reasoning.PhaseExtractEvidence:
		fmt.Fprintf(p.w, "[depth %d/%d] retrieved %d chunks\n", s.Depth, s.MaxDepth, s.TotalChunks())
	case reasoning.PhasePrepareNext, reasoning.PhaseFinish:
		if a, ok := s.Latest(); ok {
			fmt.Fprintf(p.w, "[depth %d/%d] can_solve=%v confidence=%.2f\n", s.Depth, s.MaxDepth, bool(a.CanSolve), float64(a.Confidence))
		}
	}
}

func (p *progressPrinter) EvidenceProgress(_ string, depth, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\r[depth %d] evidence %d/%d", depth, done, total)
	if done == total {
		fmt.Fprintln(p.w)
	}
}

func printResult(w io.Writer, res result.Result, snap pipeline.JobSnapshot) {
	a := res.Assessment
	fmt.Fprintf(w, "Session:    %s\n", res.SessionID)
	fmt.Fprintf(w, "Depth:      %d\n", res.FinalPlan.Depth)
	fmt.Fprintf(w, "Can solve:  %v\n", bool(a.CanSolve))
	fmt.Fprintf(w, "Confidence: %.2f\n", float64(a.Confidence))

	if len(a.Conclusions) > 0 {
		fmt.Fprintln(w, "\nConclusions:")
		for _, c := range a.Conclusions {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
	if len(a.SolutionSteps) > 0 {
		fmt.Fprintln(w, "\nSteps:")
		for i, s := range a.SolutionSteps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s.Step)
		}
	}
	if len(a.MissingParts) > 0 {
		fmt.Fprintln(w, "\nMissing:")
		for _, m := range a.MissingParts {
			fmt.Fprintf(w, "  - %s\n", m)
		}
	}
	if len(res.UsedSources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, u := range res.UsedSources {
			fmt.Fprintf(w, "  - %s (%s)\n", u.Breadcrumb, u.NodeID)
		}
	}

	if len(snap.CodeFiles) > 0 {
		fmt.Fprintln(w, "\nCode:")
		for _, f := range snap.CodeFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if snap.ReportPath != "" {
		fmt.Fprintf(w, "\nReport: %s\n", snap.ReportPath)
	}
	for _, e := range snap.Progress.Errors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}
