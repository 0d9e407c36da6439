package relay

import (
	"sync/atomic"
	"time"
)

// SessionState is the lifecycle of one terminal session. A session
// only moves forward: Pending -> Opening -> Active -> Closed.
type SessionState int32

const (
	StatePending SessionState = iota
	StateOpening
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one interactive SSH conversation multiplexed over a
// device's control connection. It joins exactly one terminal socket to
// one device and is never persisted.
type Session struct {
	ID        string
	DeviceID  string
	UserID    string
	CreatedAt time.Time

	terminal TerminalConn
	state    atomic.Int32
}

func newSession(id, deviceID, userID string, term TerminalConn) *Session {
	s := &Session{
		ID:        id,
		DeviceID:  deviceID,
		UserID:    userID,
		CreatedAt: time.Now(),
		terminal:  term,
	}
	s.state.Store(int32(StatePending))
	return s
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) markOpening() {
	s.state.CompareAndSwap(int32(StatePending), int32(StateOpening))
}

// markActive flips Opening to Active on the first inbound frame from
// the agent. Later frames are no-ops.
func (s *Session) markActive() {
	s.state.CompareAndSwap(int32(StateOpening), int32(StateActive))
}

func (s *Session) markClosed() {
	s.state.Store(int32(StateClosed))
}
