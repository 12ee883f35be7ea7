package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/booksage/internal/knowledge"
)

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	maxLevel := s.cfg.Agent.OutlineMaxLevel
	if v := r.URL.Query().Get("max_level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "max_level must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxLevel = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"max_level": maxLevel,
		"nodes":     s.index.Len(),
		"outline":   s.index.RenderOutline(maxLevel),
	})
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")
	rec, err := s.index.NodeRecord(id)
	if errors.Is(err, knowledge.ErrNodeNotFound) {
		jsonError(w, "node not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"node": rec}
	if r.URL.Query().Get("text") == "true" {
		text, err := s.index.NodeText(id)
		if err != nil {
			s.log.Error("read node text failed", "node_id", id, "error", err)
			jsonError(w, "failed to read node text", http.StatusInternalServerError)
			return
		}
		resp["text"] = text
	}
	writeJSON(w, http.StatusOK, resp)
}
