package server

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// handleSearchFiles implements GET /api/search/files?q=&limit=&file_types=
func (h *HTTPServer) handleSearchFiles(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, validationError(http.StatusBadRequest, "missing_query", "Query parameter 'q' is required"))
		return
	}

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeError(w, validationError(http.StatusBadRequest, "invalid_limit",
				"limit must be an integer between 1 and 50"))
			return
		}
		limit = n
	}

	var fileTypes []string
	for _, raw := range r.URL.Query()["file_types"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				fileTypes = append(fileTypes, t)
			}
		}
	}

	if h.deps.Searcher == nil {
		writeError(w, unavailable("RAG system not initialized"))
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Searcher.Search(r.Context(), query, limit, fileTypes))
}

func (h *HTTPServer) handleSearchHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"service": "file_search",
			"error":   "RAG system not initialized",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "file_search",
		"retriever": checkHealth(r.Context(), h.deps.Retriever),
	})
}
