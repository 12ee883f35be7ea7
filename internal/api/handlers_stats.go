package api

import (
	"net/http"

	"github.com/dgallion1/booksage/internal/oracle"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"providers": providerNames(s.cfg.ActiveProviders()),
		"stats":     s.stats.Snapshot(),
		"by_task":   s.stats.ByTask(),
	})
}

func providerNames(ps []oracle.ProviderConfig) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name)
	}
	return names
}
