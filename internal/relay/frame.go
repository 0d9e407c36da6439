package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Frame types exchanged with the device agent over its control
// connection. The relay sends ssh_open/ssh_data/ssh_resize/ssh_close
// plus ping; the agent sends ssh_data/ssh_closed/ssh_error plus pong.
const (
	FrameSSHOpen   = "ssh_open"
	FrameSSHData   = "ssh_data"
	FrameSSHResize = "ssh_resize"
	FrameSSHClose  = "ssh_close"
	FrameSSHClosed = "ssh_closed"
	FrameSSHError  = "ssh_error"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameConnected = "connected"
)

// Frame is the JSON envelope for agent control-connection traffic.
// Binary payloads travel base64-encoded in Data.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseFrame decodes a raw agent message and rejects unknown frame
// tags. Unknown tags are a protocol failure: the caller drops the
// offending connection rather than ignoring them.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Type {
	case FrameSSHOpen, FrameSSHData, FrameSSHResize, FrameSSHClose,
		FrameSSHClosed, FrameSSHError, FramePing, FramePong, FrameConnected:
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("frame missing type tag")
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// Payload decodes the base64 data of an ssh_data frame.
func (f Frame) Payload() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("frame payload for session %s: %w", f.SessionID, err)
	}
	return b, nil
}

// Encode marshals the frame for transmission.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func openFrame(sessionID, username, password string) Frame {
	return Frame{Type: FrameSSHOpen, SessionID: sessionID, Username: username, Password: password}
}

func dataFrame(sessionID string, b []byte) Frame {
	return Frame{Type: FrameSSHData, SessionID: sessionID, Data: base64.StdEncoding.EncodeToString(b)}
}

func resizeFrame(sessionID string, rows, cols uint16) Frame {
	return Frame{Type: FrameSSHResize, SessionID: sessionID, Rows: rows, Cols: cols}
}

func closeFrame(sessionID string) Frame {
	return Frame{Type: FrameSSHClose, SessionID: sessionID}
}
