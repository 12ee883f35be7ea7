package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
)

// Knowledge is the read side of the knowledge index served by the API.
type Knowledge interface {
	Len() int
	RenderOutline(maxLevel int) string
	NodeRecord(id string) (knowledge.NodeRecord, error)
	NodeText(id string) (string, error)
}

// Server is the HTTP API server for booksage.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	index        Knowledge
	sessions     *reasoning.SessionStore
	reports      *report.Writer
	stats        *oracle.Stats
	log          *slog.Logger
	cfg          config.Config
}

// Deps groups the collaborators the server reads from.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Index        Knowledge
	Sessions     *reasoning.SessionStore
	Reports      *report.Writer
	Stats        *oracle.Stats // nil disables /api/stats/llm
}

// NewServer creates and configures the HTTP server.
func NewServer(d Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: d.Orchestrator,
		index:        d.Index,
		sessions:     d.Sessions,
		reports:      d.Reports,
		stats:        d.Stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/sessions", s.handleCreateSession)
		r.Get("/api/sessions/{sessionID}/status", s.handleSessionStatus)
		r.Get("/api/sessions/{sessionID}/result", s.handleSessionResult)
		r.Get("/api/sessions/{sessionID}/report", s.handleSessionReport)

		r.Get("/api/knowledge/outline", s.handleOutline)
		r.Get("/api/knowledge/nodes/{nodeID}", s.handleNode)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"nodes":       s.index.Len(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
