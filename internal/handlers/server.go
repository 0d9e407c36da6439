package handlers

import (
	"net/http"

	"github.com/fernet/fernet-go"
	"github.com/gruppen-it/firewall365-relay/internal/audit"
	"github.com/gruppen-it/firewall365-relay/internal/config"
	"github.com/gruppen-it/firewall365-relay/internal/relay"
	"github.com/gruppen-it/firewall365-relay/internal/token"
)

// Server holds the relay's collaborators and exposes the HTTP and
// WebSocket surface. Construct it in main and mount its methods on the
// router; nothing here is package-level state.
type Server struct {
	Relay     *relay.Relay
	Tokens    *token.Store
	AgentKey  *fernet.Key
	Allowlist *config.Allowlist
	Audit     *audit.Log
}

func NewServer(rl *relay.Relay, tokens *token.Store, agentKey *fernet.Key, allowlist *config.Allowlist, auditLog *audit.Log) *Server {
	return &Server{
		Relay:     rl,
		Tokens:    tokens,
		AgentKey:  agentKey,
		Allowlist: allowlist,
		Audit:     auditLog,
	}
}

// WS is the single socket endpoint. The type query parameter selects
// between the device agent protocol and the browser terminal protocol.
func (s *Server) WS(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("type") {
	case "agent":
		s.serveAgent(w, r)
	case "terminal":
		s.serveTerminal(w, r)
	default:
		http.Error(w, "Unknown socket type", http.StatusBadRequest)
	}
}

// HealthCheck reports liveness. No auth.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": len(s.Relay.OnlineDevices()),
	})
}
