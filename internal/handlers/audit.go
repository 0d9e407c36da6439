package handlers

import (
	"net/http"
	"strconv"

	"github.com/gruppen-it/firewall365-relay/internal/audit"
)

// ListAuditEvents returns recent session and agent lifecycle events.
// GET /api/v1/audit?limit=N
func (s *Server) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": {}})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := s.Audit.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": events})
}
