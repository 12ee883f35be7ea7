package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
)

type createSessionRequest struct {
	Question string `json:"question"`
	// AllowLargeContext answers the large-context confirmation. Defaults to true.
	AllowLargeContext *bool `json:"allow_large_context"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxQuestionBytes)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("request exceeds max size (%d bytes)", s.cfg.MaxQuestionBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return
	}
	allow := true
	if req.AllowLargeContext != nil {
		allow = *req.AllowLargeContext
	}

	job := pipeline.NewJob(reasoning.NewSessionID(), question, allow)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": job.ID,
		"status":     pipeline.StatusQueued,
		"poll_url":   fmt.Sprintf("/api/sessions/%s/status", job.ID),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if job := s.orchestrator.GetJob(id); job != nil {
		writeJSON(w, http.StatusOK, job.Snapshot())
		return
	}
	// Jobs expire from memory; finished sessions remain on disk.
	if _, err := s.sessions.LoadResult(id); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"status":     pipeline.StatusCompleted,
			"has_result": true,
		})
		return
	}
	jsonError(w, "session not found", http.StatusNotFound)
}

func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	job := s.orchestrator.GetJob(id)
	if job != nil {
		if res, ok := job.Result(); ok {
			writeJSON(w, http.StatusOK, res)
			return
		}
		if snap := job.Snapshot(); !snap.Status.Done() {
			jsonError(w, fmt.Sprintf("session is %s", snap.Status), http.StatusConflict)
			return
		}
	}

	res, err := s.sessions.LoadResult(id)
	if errors.Is(err, reasoning.ErrSessionNotFound) {
		jsonError(w, "result not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("load result failed", "session_id", id, "error", err)
		jsonError(w, "failed to load result", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !validSessionID(id) {
		jsonError(w, "report not found", http.StatusNotFound)
		return
	}
	md, err := os.ReadFile(s.reports.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		jsonError(w, "report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to read report", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(md)
		return
	}
	body, err := report.RenderHTML(md)
	if err != nil {
		jsonError(w, "failed to render report: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>booksage %s</title></head><body>\n%s</body></html>\n",
		html.EscapeString(id), body)
}

func validSessionID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\.`)
}
