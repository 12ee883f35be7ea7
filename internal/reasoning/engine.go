// Package reasoning runs the depth-bounded question decomposition loop:
// classify relevant sections, retrieve and chunk their text, extract
// evidence chunk by chunk, integrate it into an assessment, then either
// finish or refine at the next depth.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/metrics"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/result"
)

// Index is the read-only knowledge the loop reasons over.
type Index interface {
	RenderOutline(maxLevel int) string
	RenderOutlineSubset(ids []string, includeChildren bool, maxLevel int) string
	NormalizeNodeIDs(ids []string) []string
	NodeRecord(id string) (knowledge.NodeRecord, error)
	NodeText(id string) (string, error)
}

// Observer is notified as a session advances.
type Observer interface {
	StepDone(s Snapshot)
	EvidenceProgress(sessionID string, depth, done, total int)
}

type nopObserver struct{}

func (nopObserver) StepDone(Snapshot)                      {}
func (nopObserver) EvidenceProgress(string, int, int, int) {}

// Config holds loop settings.
type Config struct {
	MaxDepth           int
	MaxSelectedNodes   int
	MaxSubquestions    int
	StopIfConfidenceGE float64 // 0 disables early stop on confidence
	Chunk              chunker.Config
	ConfirmChunksGE    int // 0 disables the confirmation gate
	EvidenceWorkers    int
	OutlineMaxLevel    int
	FocusMaxLevel      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         6,
		MaxSelectedNodes: 8,
		MaxSubquestions:  8,
		Chunk:            chunker.DefaultConfig(),
		ConfirmChunksGE:  80,
		EvidenceWorkers:  1,
		OutlineMaxLevel:  2,
		FocusMaxLevel:    3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxSelectedNodes <= 0 {
		c.MaxSelectedNodes = d.MaxSelectedNodes
	}
	if c.MaxSubquestions <= 0 {
		c.MaxSubquestions = d.MaxSubquestions
	}
	if c.Chunk == (chunker.Config{}) {
		c.Chunk = d.Chunk
	}
	if c.EvidenceWorkers <= 0 {
		c.EvidenceWorkers = 1
	}
	if c.OutlineMaxLevel <= 0 {
		c.OutlineMaxLevel = d.OutlineMaxLevel
	}
	if c.FocusMaxLevel <= 0 {
		c.FocusMaxLevel = d.FocusMaxLevel
	}
	return c
}

// Engine drives reasoning sessions. One Engine may run many sessions
// concurrently; sessions share nothing but the read-only index.
type Engine struct {
	index     Index
	oracle    oracle.Oracle
	chunks    *ChunkStore
	sessions  *SessionStore
	confirmer Confirmer
	observer  Observer
	newID     func() string
	cfg       Config
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfirmer sets the large-context gate. The default accepts.
func WithConfirmer(c Confirmer) Option { return func(e *Engine) { e.confirmer = c } }

// WithSessionStore enables the on-disk audit trail.
func WithSessionStore(s *SessionStore) Option { return func(e *Engine) { e.sessions = s } }

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithSessionIDs overrides session id generation.
func WithSessionIDs(f func() string) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(idx Index, o oracle.Oracle, chunks *ChunkStore, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		index:     idx,
		oracle:    o,
		chunks:    chunks,
		confirmer: AutoConfirm(true),
		observer:  nopObserver{},
		newID:     NewSessionID,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSessionID returns a short random session id.
func NewSessionID() string {
	return uuid.NewString()[:8]
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start returns the initial snapshot for a question.
func (e *Engine) Start(question string) Snapshot {
	return Snapshot{
		Phase:     PhaseClassify,
		SessionID: e.newID(),
		Question:  question,
		Outline:   e.index.RenderOutline(e.cfg.OutlineMaxLevel),
		Depth:     1,
		MaxDepth:  e.cfg.MaxDepth,
	}
}

// Run answers question and packages the result. No result is produced when
// any step fails or the session is cancelled.
func (e *Engine) Run(ctx context.Context, question string) (result.Result, error) {
	return e.RunFrom(ctx, e.Start(question))
}

// RunFrom drives s to completion.
func (e *Engine) RunFrom(ctx context.Context, s Snapshot) (result.Result, error) {
	log := e.log.With("session_id", s.SessionID)
	log.Info("session started", "question", s.Question, "max_depth", s.MaxDepth)

	for s.Phase != PhaseFinish {
		next, err := e.Step(ctx, s)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				log.Warn("session cancelled", "depth", s.Depth, "phase", s.Phase.String())
			} else {
				log.Error("session failed", "depth", s.Depth, "phase", s.Phase.String(), "error", err)
			}
			return result.Result{}, err
		}
		log.Debug("step done", "phase", next.Phase.String(), "changed", Diff(s, next))
		e.observer.StepDone(next)
		s = next
	}

	latest, _ := s.Latest()
	res := result.Package(result.Terminal{
		SessionID:  s.SessionID,
		Question:   s.Question,
		Outline:    s.Outline,
		Depth:      s.Depth,
		History:    s.History,
		Evidence:   s.Evidence,
		Assessment: latest,
	}, e.titleOf)
	metrics.ObserveSessionDepth(s.Depth)

	if e.sessions != nil {
		if err := e.sessions.SaveResult(res); err != nil {
			return result.Result{}, err
		}
	}
	log.Info("session finished", "depth", s.Depth, "can_solve", bool(latest.CanSolve),
		"confidence", float64(latest.Confidence), "used_sources", len(res.UsedSources))
	return res, nil
}

// Step executes the current phase of s and returns the following snapshot.
func (e *Engine) Step(ctx context.Context, s Snapshot) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return s, err
	}
	switch s.Phase {
	case PhaseClassify:
		return e.classify(ctx, s)
	case PhaseRetrieveChunks:
		return e.retrieve(ctx, s)
	case PhaseExtractEvidence:
		return e.extract(ctx, s)
	case PhaseIntegrate:
		return e.integrate(ctx, s)
	case PhasePrepareNext:
		return prepareNext(s), nil
	case PhaseFinish:
		return s, nil
	}
	return s, fmt.Errorf("unknown phase %d", s.Phase)
}

func (e *Engine) titleOf(id string) (string, bool) {
	rec, err := e.index.NodeRecord(id)
	if err != nil {
		return "", false
	}
	return rec.Title, true
}

type constraints struct {
	MaxSelectedNodes int    `json:"max_selected_nodes"`
	MaxSubquestions  int    `json:"max_subquestions"`
	Note             string `json:"note"`
}

type decomposeRequest struct {
	Depth       int         `json:"depth"`
	Question    string      `json:"question"`
	Outline     string      `json:"outline"`
	Constraints constraints `json:"constraints"`
}

type refineRequest struct {
	Depth                  int                    `json:"depth"`
	Question               string                 `json:"question"`
	Outline                string                 `json:"outline"`
	FocusOutline           string                 `json:"focus_outline,omitempty"`
	PreviousClassification *result.Classification `json:"previous_classification"`
	PreviousAssessment     *result.Assessment     `json:"previous_assessment"`
	Constraints            constraints            `json:"constraints"`
}

const idNote = "selected node ids must come from the outline; never invent ids"

func (e *Engine) classify(ctx context.Context, s Snapshot) (Snapshot, error) {
	log := e.log.With("session_id", s.SessionID, "depth", s.Depth)
	cons := constraints{MaxSelectedNodes: e.cfg.MaxSelectedNodes, MaxSubquestions: e.cfg.MaxSubquestions, Note: idNote}

	var (
		task oracle.TaskKind
		req  any
	)
	if len(s.History) == 0 {
		task = oracle.TaskDecompose
		req = decomposeRequest{Depth: s.Depth, Question: s.Question, Outline: s.Outline, Constraints: cons}
	} else {
		prev := s.History[len(s.History)-1]
		r := refineRequest{
			Depth:                  s.Depth,
			Question:               s.Question,
			Outline:                s.Outline,
			PreviousClassification: &prev,
			Constraints:            cons,
		}
		focus := prev.NodeIDs()
		if a, ok := s.Latest(); ok {
			r.PreviousAssessment = &a
			focus = append(focus, a.RefineSuggestion.NeedDeeperNodes...)
		}
		r.FocusOutline = e.index.RenderOutlineSubset(e.index.NormalizeNodeIDs(focus), true, e.cfg.FocusMaxLevel)
		task, req = oracle.TaskRefine, r
	}

	raw, err := e.oracle.Invoke(ctx, task, req)
	if err != nil {
		return s, fmt.Errorf("classify depth %d: %w", s.Depth, err)
	}
	c, err := result.DecodeClassification(raw)
	if err != nil {
		return s, fmt.Errorf("classify depth %d: %w", s.Depth, err)
	}
	c.Depth = result.Int(s.Depth)

	proposed := c.NodeIDs()
	selected := e.index.NormalizeNodeIDs(proposed)
	if dropped := len(proposed) - len(selected); dropped > 0 {
		log.Warn("dropped unknown or duplicate node ids", "count", dropped)
	}
	if len(selected) > e.cfg.MaxSelectedNodes {
		selected = selected[:e.cfg.MaxSelectedNodes]
	}
	if len(selected) == 0 {
		log.Warn("classification selected no known nodes, continuing without evidence")
	}
	log.Info("classified", "task", string(task), "selected", len(selected), "subquestions", len(c.Subquestions))

	next := s.clone()
	next.History = append(next.History, c)
	next.Current = &c
	next.Selected = selected
	next.Phase = Next(s, e.cfg.StopIfConfidenceGE)
	e.audit(next, "classification", c)
	return next, nil
}

func (e *Engine) retrieve(ctx context.Context, s Snapshot) (Snapshot, error) {
	log := e.log.With("session_id", s.SessionID, "depth", s.Depth)
	if err := e.chunks.Reset(s.SessionID, s.Depth); err != nil {
		return s, err
	}

	var metas []ChunkMeta
	tokens := 0
	for _, id := range s.Selected {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		rec, err := e.index.NodeRecord(id)
		if err != nil {
			return s, fmt.Errorf("retrieve depth %d: %w", s.Depth, err)
		}
		text, err := e.index.NodeText(id)
		if err != nil {
			return s, fmt.Errorf("retrieve depth %d: %w", s.Depth, err)
		}
		chunks, err := chunker.Chunk(text, e.cfg.Chunk)
		if err != nil {
			return s, err
		}
		if chunker.Truncated(text, chunks) {
			log.Warn("node text truncated at chunk limit", "node_id", id, "max_chunks", e.cfg.Chunk.MaxChunks)
		}
		tokens += chunker.EstimateTokens(text)
		for _, ch := range chunks {
			path, err := e.chunks.Write(s.SessionID, s.Depth, id, ch.ID, ch.Text)
			if err != nil {
				return s, err
			}
			metas = append(metas, ChunkMeta{
				DocumentID:   rec.DocumentID,
				DocumentName: rec.DocumentName,
				NodeID:       id,
				Title:        rec.Title,
				Breadcrumb:   rec.Breadcrumb,
				ChunkID:      ch.ID,
				ChunkIndex:   ch.Index + 1,
				ChunkTotal:   len(chunks),
				StartChar:    ch.StartChar,
				EndChar:      ch.EndChar,
				Path:         path,
			})
		}
	}

	next := s.clone()
	next.Chunks = metas
	next.Evidence = nil

	total := len(metas)
	if e.cfg.ConfirmChunksGE > 0 && total >= e.cfg.ConfirmChunksGE && !s.Confirmed {
		log.Warn("large context", "total_chunks", total, "threshold", e.cfg.ConfirmChunksGE)
		ok, err := e.confirmer.ConfirmLargeContext(ctx, s.SessionID, s.Depth, total)
		if err != nil {
			return s, fmt.Errorf("confirm large context: %w", err)
		}
		if !ok {
			return s, ErrCancelled
		}
		next.Confirmed = true
	}

	metrics.AddChunks(total)
	log.Info("chunks retrieved", "nodes", len(s.Selected), "total_chunks", total, "est_tokens", tokens)
	next.Phase = Next(s, e.cfg.StopIfConfidenceGE)
	e.audit(next, "chunks", metas)
	return next, nil
}

type evidenceSource struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	NodeID       string `json:"node_id"`
	NodeTitle    string `json:"node_title"`
	NodePath     string `json:"node_path"`
	ChunkID      string `json:"chunk_id"`
	ChunkIndex   int    `json:"chunk_index"`
	ChunkTotal   int    `json:"chunk_total"`
}

type evidenceRequest struct {
	Depth    int            `json:"depth"`
	Question string         `json:"question"`
	Source   evidenceSource `json:"source"`
	Text     string         `json:"text"`
}

func (e *Engine) extract(ctx context.Context, s Snapshot) (Snapshot, error) {
	log := e.log.With("session_id", s.SessionID, "depth", s.Depth)
	notes := make([]result.EvidenceNote, len(s.Chunks))
	total := len(s.Chunks)
	var done atomic.Int64

	one := func(ctx context.Context, i int) error {
		meta := s.Chunks[i]
		text, err := e.chunks.Read(meta.Path)
		if err != nil {
			return err
		}
		req := evidenceRequest{
			Depth:    s.Depth,
			Question: s.Question,
			Source: evidenceSource{
				DocumentID:   meta.DocumentID,
				DocumentName: meta.DocumentName,
				NodeID:       meta.NodeID,
				NodeTitle:    meta.Title,
				NodePath:     meta.Breadcrumb,
				ChunkID:      meta.ChunkID,
				ChunkIndex:   meta.ChunkIndex,
				ChunkTotal:   meta.ChunkTotal,
			},
			Text: text,
		}
		raw, err := e.oracle.Invoke(ctx, oracle.TaskExtractEvidence, req)
		if err != nil {
			return fmt.Errorf("evidence %s/%s: %w", meta.NodeID, meta.ChunkID, err)
		}
		note, err := result.DecodeEvidence(raw)
		if err != nil {
			return fmt.Errorf("evidence %s/%s: %w", meta.NodeID, meta.ChunkID, err)
		}
		note.NodeID = result.Text(meta.NodeID)
		note.ChunkID = result.Text(meta.ChunkID)
		if dropped := note.Sanitize(); dropped > 0 {
			log.Warn("evidence entries dropped", "node_id", meta.NodeID, "chunk_id", meta.ChunkID, "dropped", dropped)
		}
		notes[i] = note

		n := int(done.Add(1))
		e.observer.EvidenceProgress(s.SessionID, s.Depth, n, total)
		if n%10 == 0 {
			log.Info("evidence progress", "done", n, "total", total)
		}
		return nil
	}

	if e.cfg.EvidenceWorkers <= 1 {
		for i := range s.Chunks {
			if err := ctx.Err(); err != nil {
				return s, err
			}
			if err := one(ctx, i); err != nil {
				return s, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.EvidenceWorkers)
		for i := range s.Chunks {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return one(gctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return s, err
		}
	}

	empty := 0
	for _, n := range notes {
		if n.Empty() {
			empty++
		}
	}
	log.Info("evidence extracted", "notes", len(notes), "empty", empty)
	next := s.clone()
	next.Evidence = notes
	next.Phase = Next(s, e.cfg.StopIfConfidenceGE)
	e.audit(next, "evidence", notes)
	return next, nil
}

type integrateRequest struct {
	Depth          int                   `json:"depth"`
	Question       string                `json:"question"`
	Classification result.Classification `json:"classification"`
	Outline        string                `json:"outline"`
	EvidenceNotes  []result.EvidenceNote `json:"evidence_notes"`
}

func (e *Engine) integrate(ctx context.Context, s Snapshot) (Snapshot, error) {
	log := e.log.With("session_id", s.SessionID, "depth", s.Depth)
	req := integrateRequest{
		Depth:         s.Depth,
		Question:      s.Question,
		Outline:       s.Outline,
		EvidenceNotes: s.Evidence,
	}
	if req.EvidenceNotes == nil {
		req.EvidenceNotes = []result.EvidenceNote{}
	}
	if s.Current != nil {
		req.Classification = *s.Current
	}

	raw, err := e.oracle.Invoke(ctx, oracle.TaskIntegrate, req)
	if err != nil {
		return s, fmt.Errorf("integrate depth %d: %w", s.Depth, err)
	}
	a, err := result.DecodeAssessment(raw)
	if err != nil {
		return s, fmt.Errorf("integrate depth %d: %w", s.Depth, err)
	}

	next := s.clone()
	next.Assessments = append(next.Assessments, a)
	next.Phase = Next(next, e.cfg.StopIfConfidenceGE)
	log.Info("assessed", "can_solve", bool(a.CanSolve), "confidence", float64(a.Confidence),
		"missing_parts", len(a.MissingParts), "next", next.Phase.String())
	e.audit(next, "assessment", a)
	return next, nil
}

// audit records a step's output. Failures are logged and do not stop the
// session.
func (e *Engine) audit(s Snapshot, name string, v any) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.SaveDepth(s.SessionID, s.Depth, name, v); err != nil {
		e.log.Warn("audit write failed", "session_id", s.SessionID, "file", name, "error", err)
	}
}

