package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gruppen-it/firewall365-relay/internal/token"
)

type issueTokenRequest struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// IssueTerminalToken mints a one-time terminal token for the REST
// layer. The response is the only place the token ever appears; it is
// never logged or persisted.
// POST /api/v1/terminal-tokens
func (s *Server) IssueTerminalToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" || req.DeviceID == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userId, deviceId, username and password are required")
		return
	}

	tok, err := s.Tokens.Issue(req.UserID, req.DeviceID, req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	if s.Audit != nil {
		s.Audit.Record("token_issued", req.DeviceID, "", req.UserID, "")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":            tok,
		"expiresInSeconds": int(token.Lifetime.Seconds()),
	})
}
