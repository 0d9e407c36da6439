package handlers

import (
	"net/http"
	"strconv"

	"github.com/gruppen-it/firewall365-relay/internal/logging"
)

// GetServerLogs returns the tail of the relay's own log file.
// GET /api/v1/logs?lines=N
func (s *Server) GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 5000 {
			writeError(w, http.StatusBadRequest, "Invalid lines")
			return
		}
		lines = n
	}

	tail, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"logs": tail})
}
