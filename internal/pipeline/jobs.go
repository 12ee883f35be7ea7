package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/result"
)

// JobStatus represents the state of a reasoning session job.
type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusRunning        JobStatus = "running"
	StatusGeneratingCode JobStatus = "generating_code"
	StatusReporting      JobStatus = "reporting"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
	StatusCancelled      JobStatus = "cancelled"
)

// Done reports whether no further work will happen for the job.
func (s JobStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job tracks one question from submission to report.
type Job struct {
	mu sync.Mutex

	ID       string `json:"session_id"`
	Question string `json:"question"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	// AllowLargeContext answers the large-context confirmation for this job.
	AllowLargeContext bool `json:"allow_large_context"`

	ReportPath string    `json:"report_path,omitempty"`
	CodeFiles  []string  `json:"code_files,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Internal: not serialized.
	result *result.Result
	errors []string
}

// Progress tracks how far the reasoning loop has come.
type Progress struct {
	Depth           int      `json:"depth"`
	MaxDepth        int      `json:"max_depth"`
	SelectedNodes   int      `json:"selected_nodes"`
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	Confidence      float64  `json:"confidence"`
	Errors          []string `json:"errors"`
}

// NewJob returns a queued job for question.
func NewJob(id, question string, allowLargeContext bool) *Job {
	now := time.Now()
	return &Job{
		ID:                id,
		Question:          question,
		Status:            StatusQueued,
		Phase:             "queued",
		AllowLargeContext: allowLargeContext,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction. It
// also observes reasoning sessions and answers their confirmation gate,
// keyed by session id.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs that have not changed within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Done() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// StepDone records loop progress for the session's job.
func (s *JobStore) StepDone(snap reasoning.Snapshot) {
	job := s.Get(snap.SessionID)
	if job == nil {
		return
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	job.Phase = snap.Phase.String()
	job.Progress.Depth = snap.Depth
	job.Progress.MaxDepth = snap.MaxDepth
	job.Progress.SelectedNodes = len(snap.Selected)
	job.Progress.TotalChunks = snap.TotalChunks()
	if snap.Phase == reasoning.PhaseRetrieveChunks || snap.Phase == reasoning.PhaseClassify {
		job.Progress.ChunksProcessed = 0
	}
	if latest, ok := snap.Latest(); ok {
		job.Progress.Confidence = float64(latest.Confidence)
	}
	job.UpdatedAt = time.Now()
}

// EvidenceProgress records how many chunks have been read at a depth.
func (s *JobStore) EvidenceProgress(sessionID string, depth, done, total int) {
	job := s.Get(sessionID)
	if job == nil {
		return
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	// Parallel extraction may report counts out of order.
	if depth == job.Progress.Depth && done <= job.Progress.ChunksProcessed {
		return
	}
	job.Progress.Depth = depth
	job.Progress.ChunksProcessed = done
	job.Progress.TotalChunks = total
	job.UpdatedAt = time.Now()
}

// ConfirmLargeContext answers with the job's AllowLargeContext flag.
func (s *JobStore) ConfirmLargeContext(_ context.Context, sessionID string, depth, totalChunks int) (bool, error) {
	job := s.Get(sessionID)
	if job == nil {
		return false, fmt.Errorf("no job for session %s", sessionID)
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if !job.AllowLargeContext {
		job.errors = append(job.errors, fmt.Sprintf("depth %d: %d chunks need confirmation", depth, totalChunks))
		job.Progress.Errors = job.errors
	}
	return job.AllowLargeContext, nil
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetResult stores the packaged session result.
func (j *Job) SetResult(res result.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = &res
	j.Progress.Confidence = float64(res.Assessment.Confidence)
	j.UpdatedAt = time.Now()
}

// Result returns the packaged result once the loop has finished.
func (j *Job) Result() (result.Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return result.Result{}, false
	}
	return *j.result, true
}

// SetCodeFiles records generated file paths.
func (j *Job) SetCodeFiles(paths []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.CodeFiles = paths
	j.UpdatedAt = time.Now()
}

// SetReportPath records where the report was written.
func (j *Job) SetReportPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ReportPath = path
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string    `json:"session_id"`
	Question   string    `json:"question"`
	Status     JobStatus `json:"status"`
	Phase      string    `json:"phase"`
	Progress   Progress  `json:"progress"`
	HasResult  bool      `json:"has_result"`
	ReportPath string    `json:"report_path,omitempty"`
	CodeFiles  []string  `json:"code_files"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	files := append([]string{}, j.CodeFiles...)
	progress := j.Progress
	progress.Errors = errs
	return JobSnapshot{
		ID:         j.ID,
		Question:   j.Question,
		Status:     j.Status,
		Phase:      j.Phase,
		Progress:   progress,
		HasResult:  j.result != nil,
		ReportPath: j.ReportPath,
		CodeFiles:  files,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}
