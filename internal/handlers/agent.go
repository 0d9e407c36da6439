package handlers

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gruppen-it/firewall365-relay/internal/crypto"
	"github.com/gruppen-it/firewall365-relay/internal/relay"
)

const agentWriteTimeout = 10 * time.Second

// agentPingInterval is how often the relay pings each control
// connection. Tests may override it.
var agentPingInterval = 30 * time.Second

// serveAgent handles the long-lived control connection from a device
// agent. The agent authenticates with its device-bound fernet
// credential; the one-time terminal tokens are never accepted here.
func (s *Server) serveAgent(w http.ResponseWriter, r *http.Request) {
	cred := r.URL.Query().Get("token")
	if cred == "" {
		http.Error(w, "Missing agent credential", http.StatusUnauthorized)
		return
	}
	if s.AgentKey == nil {
		http.Error(w, "Agent key not configured", http.StatusServiceUnavailable)
		return
	}

	deviceID, err := crypto.VerifyAgentCredential(s.AgentKey, cred)
	if err != nil {
		log.Printf("[agent] credential rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid agent credential", http.StatusUnauthorized)
		return
	}
	if !s.Allowlist.Allowed(deviceID) {
		log.Printf("[agent] device %s not in allowlist", deviceID)
		http.Error(w, "Device not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[agent] accept failed for device %s: %v", deviceID, err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ac := newAgentConn(ctx, conn)
	s.Relay.RegisterAgent(deviceID, ac)
	defer s.Relay.UnregisterAgent(deviceID, ac)

	if err := ac.Send(relay.Frame{Type: relay.FrameConnected}); err != nil {
		return
	}

	go ac.pingLoop(ctx, deviceID)

	conn.SetReadLimit(1024 * 1024)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Printf("[agent] device %s: control connection closed: %v", deviceID, err)
			return
		}

		f, err := relay.ParseFrame(data)
		if err != nil {
			log.Printf("[agent] device %s: %v", deviceID, err)
			conn.Close(websocket.StatusPolicyViolation, "malformed frame")
			return
		}

		if f.Type == relay.FramePing {
			ac.Send(relay.Frame{Type: relay.FramePong})
			continue
		}

		if err := s.Relay.HandleAgentFrame(deviceID, f); err != nil {
			log.Printf("[agent] device %s: %v", deviceID, err)
			conn.Close(websocket.StatusPolicyViolation, "protocol violation")
			return
		}
	}
}

// agentConn adapts a websocket connection to the relay.AgentConn
// contract. Writes are serialized and bounded by a timeout so a stuck
// agent cannot wedge a registry critical section.
type agentConn struct {
	ctx    context.Context
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newAgentConn(ctx context.Context, conn *websocket.Conn) *agentConn {
	return &agentConn{ctx: ctx, conn: conn}
}

func (a *agentConn) Send(f relay.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return net.ErrClosed
	}

	ctx, cancel := context.WithTimeout(a.ctx, agentWriteTimeout)
	defer cancel()
	return a.conn.Write(ctx, websocket.MessageText, b)
}

// Close is called by the registry when this connection is superseded.
// The close handshake runs off the caller's goroutine so a per-device
// critical section is never held across network I/O.
func (a *agentConn) Close(reason string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	go a.conn.Close(websocket.StatusNormalClosure, truncateReason(reason))
}

// pingLoop keeps the control connection honest: an agent that stops
// acknowledging writes gets its session closed, which surfaces as a
// read error in serveAgent and unregisters the device.
func (a *agentConn) pingLoop(ctx context.Context, deviceID string) {
	ticker := time.NewTicker(agentPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Send(relay.Frame{Type: relay.FramePing}); err != nil {
				log.Printf("[agent] device %s: ping failed: %v", deviceID, err)
				a.Close("ping failed")
				a.conn.CloseNow()
				return
			}
		}
	}
}

// truncateReason keeps close reasons inside the 123-byte control frame
// budget.
func truncateReason(reason string) string {
	if len(reason) > 120 {
		return reason[:120]
	}
	return reason
}
