package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/booksage/internal/config"
)

// Orchestrator runs queued session jobs on a fixed pool of workers.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. jobs should be the store the
// worker's engine reports progress to.
func NewOrchestrator(cfg config.Config, jobs *JobStore, worker *Worker, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: worker,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// run processes one session and logs where it ended.
func (o *Orchestrator) run(ctx context.Context, job *Job) {
	o.worker.Process(ctx, job)

	snap := job.Snapshot()
	attrs := []any{
		"session_id", snap.ID,
		"status", snap.Status,
		"phase", snap.Phase,
		"depth", snap.Progress.Depth,
		"max_depth", snap.Progress.MaxDepth,
		"confidence", snap.Progress.Confidence,
		"errors", len(snap.Progress.Errors),
		"elapsed_ms", snap.UpdatedAt.Sub(snap.CreatedAt).Milliseconds(),
	}
	if snap.Status == StatusFailed {
		o.log.Warn("session finished", attrs...)
		return
	}
	o.log.Info("session finished", attrs...)
}

// Stop gracefully shuts down the pipeline. Sessions still queued are
// failed so pollers see a final status.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()

	for job := range o.queue {
		job.AddError("server shut down before the session started")
		job.SetStatus(StatusFailed, "shutdown")
	}
}

// Submit queues a new session job.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("session queued", "session_id", job.ID,
			"question_chars", len([]rune(job.Question)), "allow_large_context", job.AllowLargeContext,
			"queue_depth", len(o.queue))
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
