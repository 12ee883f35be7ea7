package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/booksage/internal/codegen"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
)

// Worker runs one session job end to end.
type Worker struct {
	engine  *reasoning.Engine
	codegen *codegen.Generator // nil skips code generation
	reports *report.Writer     // nil skips the report
	log     *slog.Logger
}

func NewWorker(engine *reasoning.Engine, gen *codegen.Generator, reports *report.Writer, log *slog.Logger) *Worker {
	return &Worker{
		engine:  engine,
		codegen: gen,
		reports: reports,
		log:     log,
	}
}

// Process answers the job's question, then generates code and writes the
// report. Code generation and report failures are recorded on the job but
// do not fail it once a result exists.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("session_id", job.ID)
	cfg := w.engine.Config()
	log.Info("job started", "max_depth", cfg.MaxDepth, "evidence_workers", cfg.EvidenceWorkers,
		"confirm_chunks_ge", cfg.ConfirmChunksGE)

	// Phase 1: reasoning loop
	job.SetStatus(StatusRunning, reasoning.PhaseClassify.String())
	s := w.engine.Start(job.Question)
	s.SessionID = job.ID
	res, err := w.engine.RunFrom(ctx, s)
	if err != nil {
		phase := job.Snapshot().Phase
		if errors.Is(err, reasoning.ErrCancelled) {
			job.SetStatus(StatusCancelled, phase)
			return
		}
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, phase)
		return
	}
	job.SetResult(res)

	// Phase 2: code generation
	var code *codegen.Output
	if w.codegen != nil {
		job.SetStatus(StatusGeneratingCode, "generating_code")
		out, err := w.codegen.Generate(ctx, res)
		if err != nil {
			log.Warn("code generation failed", "error", err)
			job.AddError(fmt.Sprintf("codegen: %s", err))
		} else {
			code = &out
			paths := make([]string, 0, len(out.Artifacts))
			for _, a := range out.Artifacts {
				paths = append(paths, a.AbsPath)
			}
			job.SetCodeFiles(paths)
		}
	}

	// Phase 3: report
	if w.reports != nil {
		job.SetStatus(StatusReporting, "reporting")
		path, err := w.reports.Write(res, code)
		if err != nil {
			log.Warn("report failed", "error", err)
			job.AddError(fmt.Sprintf("report: %s", err))
		} else {
			job.SetReportPath(path)
		}
	}

	job.SetStatus(StatusCompleted, "done")
	log.Info("job complete", "depth", res.FinalPlan.Depth, "used_sources", len(res.UsedSources))
}
