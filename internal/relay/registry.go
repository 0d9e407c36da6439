package relay

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

var (
	// ErrAgentNotConnected means the device has no live control
	// connection. The terminal socket is refused; the UI may retry.
	ErrAgentNotConnected = errors.New("agent not connected")

	// ErrSessionExists means the caller-supplied session id is already
	// bound on the device. The existing session is untouched.
	ErrSessionExists = errors.New("session id already in use")

	// ErrUnknownSession means the session was already torn down.
	ErrUnknownSession = errors.New("unknown session")
)

// AgentConn is the writable side of a device's control connection.
// Send must not block indefinitely; the transport applies its own
// write timeout. Close must be safe to call more than once.
type AgentConn interface {
	Send(f Frame) error
	Close(reason string)
}

// TerminalConn is the relay's handle on one browser terminal socket.
// Implementations must not block on a slow consumer: SendOutput either
// queues the bytes or fails, and the Close variants return promptly.
type TerminalConn interface {
	SendOutput(b []byte) error
	// Close ends the socket normally with the given reason.
	Close(reason string)
	// CloseError sends a best-effort error envelope, then closes.
	CloseError(message string)
}

// device carries the per-device critical section: the control
// connection of record and the table of sessions multiplexed on it.
// The entry persists across reconnects so the lock identity is stable.
type device struct {
	id       string
	mu       sync.Mutex
	conn     AgentConn
	sessions map[string]*Session
}

// Registry is the authoritative map from device identity to live
// control connection. The registry-wide lock covers only map lookups;
// all connection and session mutations take the per-device lock, so
// unrelated devices never contend.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*device)}
}

func (r *Registry) getDevice(deviceID string) *device {
	r.mu.RLock()
	d := r.devices[deviceID]
	r.mu.RUnlock()
	if d != nil {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d = r.devices[deviceID]; d == nil {
		d = &device{id: deviceID, sessions: make(map[string]*Session)}
		r.devices[deviceID] = d
	}
	return d
}

func (r *Registry) lookup(deviceID string) *device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceID]
}

// RegisterAgent installs conn as the connection of record for the
// device. A prior connection is superseded: its sessions are
// force-closed and its socket closed before the new connection becomes
// visible, so a stale agent can never receive traffic meant for the
// new one.
func (r *Registry) RegisterAgent(deviceID string, conn AgentConn) {
	d := r.getDevice(deviceID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if old := d.conn; old != nil {
		d.forceCloseLocked("agent disconnected")
		old.Close("superseded by a newer agent connection")
		log.Printf("[relay] device %s: agent connection superseded", deviceID)
	}
	d.conn = conn
	d.sessions = make(map[string]*Session)
	log.Printf("[relay] device %s: agent registered", deviceID)
}

// UnregisterAgent removes the mapping, but only if conn is still the
// connection of record. This guards against an old connection's close
// handler evicting a newer registration.
func (r *Registry) UnregisterAgent(deviceID string, conn AgentConn) {
	d := r.lookup(deviceID)
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != conn {
		return
	}
	d.forceCloseLocked("agent disconnected")
	d.conn = nil
	log.Printf("[relay] device %s: agent unregistered", deviceID)
}

// forceCloseLocked ends every session on the device and notifies the
// bound terminal sockets. Caller holds d.mu.
func (d *device) forceCloseLocked(reason string) {
	for id, s := range d.sessions {
		s.markClosed()
		s.terminal.CloseError(reason)
		delete(d.sessions, id)
	}
}

// IsOnline reports whether a control connection is currently
// registered. The answer is advisory: a send that fails afterwards is
// how the relay learns a device just went away.
func (r *Registry) IsOnline(deviceID string) bool {
	d := r.lookup(deviceID)
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// ListOnline returns the identities of all connected devices, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	devices := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	var online []string
	for _, d := range devices {
		d.mu.Lock()
		if d.conn != nil {
			online = append(online, d.id)
		}
		d.mu.Unlock()
	}
	sort.Strings(online)
	return online
}

// OpenSession binds a terminal socket to the device under sessionID and
// instructs the agent to start the SSH login. The credentials are sent
// exactly once and not retained. No session state survives a failure.
func (r *Registry) OpenSession(deviceID, sessionID, username, password, userID string, term TerminalConn) (*Session, error) {
	d := r.getDevice(deviceID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil, ErrAgentNotConnected
	}
	if _, exists := d.sessions[sessionID]; exists {
		return nil, ErrSessionExists
	}

	if err := d.conn.Send(openFrame(sessionID, username, password)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentNotConnected, err)
	}

	s := newSession(sessionID, deviceID, userID, term)
	s.markOpening()
	d.sessions[sessionID] = s
	log.Printf("[relay] device %s: session %s opened by user %s", deviceID, sessionID, userID)
	return s, nil
}

// RouteInbound dispatches a frame arriving from the agent to the
// terminal socket bound to its session. Frames for unknown sessions
// are dropped: the far side already closed. A malformed payload is a
// protocol failure and returns an error so the caller can drop the
// offending control connection.
func (r *Registry) RouteInbound(deviceID string, f Frame) error {
	d := r.lookup(deviceID)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sessions[f.SessionID]
	if s == nil {
		return nil
	}

	switch f.Type {
	case FrameSSHData:
		payload, err := f.Payload()
		if err != nil {
			return err
		}
		// First output from the agent is the "connected" signal.
		s.markActive()
		if err := s.terminal.SendOutput(payload); err != nil {
			// Slow or dead terminal: tear down this one session.
			log.Printf("[relay] device %s: session %s terminal write failed: %v", deviceID, s.ID, err)
			d.closeSessionLocked(s, "terminal unresponsive")
		}
	case FrameSSHClosed:
		s.markClosed()
		delete(d.sessions, s.ID)
		s.terminal.Close("remote session ended")
		log.Printf("[relay] device %s: session %s closed by agent", deviceID, s.ID)
	case FrameSSHError:
		s.markClosed()
		delete(d.sessions, s.ID)
		s.terminal.CloseError(f.Error)
		log.Printf("[relay] device %s: session %s agent error: %s", deviceID, s.ID, f.Error)
	}
	return nil
}

// closeSessionLocked removes the session, tells the agent to tear down
// its SSH channel, and ends the terminal socket. Caller holds d.mu.
func (d *device) closeSessionLocked(s *Session, reason string) {
	delete(d.sessions, s.ID)
	s.markClosed()
	if d.conn != nil {
		if err := d.conn.Send(closeFrame(s.ID)); err != nil {
			log.Printf("[relay] device %s: close instruction for session %s failed: %v", d.id, s.ID, err)
		}
	}
	s.terminal.Close(reason)
}

// RouteOutbound forwards input bytes from a terminal socket to the
// agent, framed with the session id. Bytes are legal before the
// session reaches Active; the agent buffers until its SSH channel is
// ready.
func (r *Registry) RouteOutbound(deviceID, sessionID string, b []byte) error {
	return r.sendForSession(deviceID, sessionID, dataFrame(sessionID, b))
}

// RouteResize forwards a terminal window-size change to the agent.
func (r *Registry) RouteResize(deviceID, sessionID string, rows, cols uint16) error {
	return r.sendForSession(deviceID, sessionID, resizeFrame(sessionID, rows, cols))
}

func (r *Registry) sendForSession(deviceID, sessionID string, f Frame) error {
	d := r.lookup(deviceID)
	if d == nil {
		return ErrAgentNotConnected
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[sessionID]; !ok {
		return ErrUnknownSession
	}
	if d.conn == nil {
		return ErrAgentNotConnected
	}
	return d.conn.Send(f)
}

// CloseSession removes the session and, if the control connection is
// still live, sends a close instruction so the agent tears down its
// SSH channel. Closing an unknown or already-closed session is a
// no-op.
func (r *Registry) CloseSession(deviceID, sessionID, reason string) {
	d := r.lookup(deviceID)
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return
	}
	d.closeSessionLocked(s, reason)
	log.Printf("[relay] device %s: session %s closed (%s)", deviceID, sessionID, reason)
}

// Sessions returns a snapshot of the sessions currently bound on the
// device.
func (r *Registry) Sessions(deviceID string) []*Session {
	d := r.lookup(deviceID)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SessionCount returns how many sessions are bound on the device.
func (r *Registry) SessionCount(deviceID string) int {
	d := r.lookup(deviceID)
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
