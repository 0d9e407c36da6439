package relay

import (
	"errors"
	"fmt"

	"github.com/gruppen-it/firewall365-relay/internal/token"
)

var (
	// ErrTokenInvalid covers missing, expired, and already-redeemed
	// terminal tokens. The connecting socket is refused; no session
	// state is created.
	ErrTokenInvalid = errors.New("invalid or expired session token")

	// ErrDeviceMismatch means the device id in the socket URL differs
	// from the one embedded in the token.
	ErrDeviceMismatch = errors.New("device identity mismatch")
)

// Auditor records session lifecycle events. Implementations must not
// store tokens or SSH credentials.
type Auditor interface {
	Record(kind, deviceID, sessionID, userID, detail string)
}

// Relay binds browser terminal sockets to device control connections.
// It owns the redemption of one-time tokens and fronts the registry
// for the transport layer. Construct one per process and pass it to
// whatever accepts inbound connections.
type Relay struct {
	tokens   *token.Store
	registry *Registry
	audit    Auditor
}

func New(tokens *token.Store, registry *Registry, audit Auditor) *Relay {
	return &Relay{tokens: tokens, registry: registry, audit: audit}
}

// Registry exposes the underlying registry, mainly for tests and the
// management API.
func (rl *Relay) Registry() *Registry {
	return rl.registry
}

// Bind redeems the one-time token and opens a session for the terminal
// socket. deviceID is the identity from the socket URL and is cross
// checked against the token's embedded device. On any error the caller
// must refuse the socket; no state has been created.
func (rl *Relay) Bind(tok, deviceID, sessionID string, term TerminalConn) (*Session, error) {
	rec, ok := rl.tokens.Redeem(tok)
	if !ok {
		rl.record("token_rejected", deviceID, sessionID, "", "invalid or expired token")
		return nil, ErrTokenInvalid
	}
	if rec.DeviceID != deviceID {
		rl.record("token_rejected", deviceID, sessionID, rec.UserID, "device mismatch")
		return nil, fmt.Errorf("%w: token is for another device", ErrDeviceMismatch)
	}

	s, err := rl.registry.OpenSession(rec.DeviceID, sessionID, rec.Username, rec.Password, rec.UserID, term)
	if err != nil {
		return nil, err
	}
	rl.record("session_opened", deviceID, sessionID, rec.UserID, "")
	return s, nil
}

// Input forwards terminal keystrokes to the agent.
func (rl *Relay) Input(deviceID, sessionID string, b []byte) error {
	return rl.registry.RouteOutbound(deviceID, sessionID, b)
}

// Resize forwards a terminal window-size change to the agent.
func (rl *Relay) Resize(deviceID, sessionID string, rows, cols uint16) error {
	return rl.registry.RouteResize(deviceID, sessionID, rows, cols)
}

// CloseTerminal tears down the session after its terminal socket went
// away, gracefully or not. Safe to call for sessions already gone.
func (rl *Relay) CloseTerminal(deviceID, sessionID, reason string) {
	rl.registry.CloseSession(deviceID, sessionID, reason)
	rl.record("session_closed", deviceID, sessionID, "", reason)
}

// RegisterAgent installs the control connection for the device.
func (rl *Relay) RegisterAgent(deviceID string, conn AgentConn) {
	rl.registry.RegisterAgent(deviceID, conn)
	rl.record("agent_connected", deviceID, "", "", "")
}

// UnregisterAgent removes the control connection if conn is still the
// one of record.
func (rl *Relay) UnregisterAgent(deviceID string, conn AgentConn) {
	rl.registry.UnregisterAgent(deviceID, conn)
	rl.record("agent_disconnected", deviceID, "", "", "")
}

// HandleAgentFrame dispatches a parsed frame from a control
// connection. Frame tags the agent is not allowed to send are a
// protocol failure; the caller drops the connection.
func (rl *Relay) HandleAgentFrame(deviceID string, f Frame) error {
	switch f.Type {
	case FrameSSHData, FrameSSHClosed, FrameSSHError:
		return rl.registry.RouteInbound(deviceID, f)
	case FramePong:
		return nil
	default:
		return fmt.Errorf("frame type %q not permitted from agent", f.Type)
	}
}

// IsOnline reports whether the device has a live control connection.
func (rl *Relay) IsOnline(deviceID string) bool {
	return rl.registry.IsOnline(deviceID)
}

// OnlineDevices lists connected device identities.
func (rl *Relay) OnlineDevices() []string {
	return rl.registry.ListOnline()
}

// Sessions lists the sessions currently bound on a device.
func (rl *Relay) Sessions(deviceID string) []*Session {
	return rl.registry.Sessions(deviceID)
}

func (rl *Relay) record(kind, deviceID, sessionID, userID, detail string) {
	if rl.audit != nil {
		rl.audit.Record(kind, deviceID, sessionID, userID, detail)
	}
}
