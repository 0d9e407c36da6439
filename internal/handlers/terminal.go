package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gruppen-it/firewall365-relay/internal/relay"
)

// terminalRateLimit defines the maximum number of messages allowed per
// second per WebSocket connection. Messages beyond this rate are
// dropped.
const terminalRateLimit = 200

// terminalRateBurst is the token bucket burst size, allowing short
// bursts of rapid input (e.g., paste operations) before rate limiting
// kicks in.
const terminalRateBurst = 200

// maxInputMessageSize bounds one keystroke/paste message.
const maxInputMessageSize = 64 * 1024

const (
	maxResizeRows = 512
	maxResizeCols = 1024
)

// Close codes for refused terminal sockets.
const (
	closeBadParams        websocket.StatusCode = 4400
	closeTokenInvalid     websocket.StatusCode = 4401
	closeDeviceMismatch   websocket.StatusCode = 4403
	closeAgentOffline     websocket.StatusCode = 4404
	closeDuplicateSession websocket.StatusCode = 4409
)

const (
	termWriteTimeout = 10 * time.Second
	termSendBuffer   = 256
)

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// serveTerminal handles a browser terminal socket. The URL carries the
// one-time token, the target device id (cross-checked against the
// token), and a client-generated UUID session id. Every rejection path
// closes the socket with a distinct code; nothing is left hanging.
func (s *Server) serveTerminal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tok := q.Get("token")
	deviceID := q.Get("deviceId")
	sessionID := q.Get("sessionId")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if tok == "" || deviceID == "" || sessionID == "" {
		conn.Close(closeBadParams, "Missing required parameters")
		return
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		conn.Close(closeBadParams, "Session id must be a UUID")
		return
	}

	tc := newTermConn(ctx, conn)
	defer tc.stop()

	sess, err := s.Relay.Bind(tok, deviceID, sessionID, tc)
	if err != nil {
		code, reason := bindFailure(err)
		log.Printf("[terminal] device %s: session %s refused: %v", deviceID, sessionID, err)
		conn.Close(code, reason)
		return
	}
	log.Printf("[terminal] device %s: session %s bound for user %s", deviceID, sessionID, sess.UserID)

	// Teardown runs on any exit, including an abnormal socket drop: the
	// read error below is the trigger, not a graceful close message.
	defer s.Relay.CloseTerminal(deviceID, sessionID, "terminal disconnected")

	conn.SetReadLimit(1024 * 1024)

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		// Rate limit: drop messages that exceed the allowed rate
		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxInputMessageSize {
				log.Printf("[terminal] session %s: input message too large (%d bytes)", sessionID, len(data))
				continue
			}
			if err := s.Relay.Input(deviceID, sessionID, data); err != nil {
				// Device went away or the session was torn down.
				return
			}
		} else {
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				cols := msg.Cols
				rows := msg.Rows
				if cols > maxResizeCols {
					cols = maxResizeCols
				}
				if rows > maxResizeRows {
					rows = maxResizeRows
				}
				s.Relay.Resize(deviceID, sessionID, rows, cols)
			}
		}
	}
}

func bindFailure(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, relay.ErrTokenInvalid):
		return closeTokenInvalid, "Invalid or expired session token"
	case errors.Is(err, relay.ErrDeviceMismatch):
		return closeDeviceMismatch, "Device identity mismatch"
	case errors.Is(err, relay.ErrSessionExists):
		return closeDuplicateSession, "Session id already in use"
	case errors.Is(err, relay.ErrAgentNotConnected):
		return closeAgentOffline, "Agent not connected"
	default:
		return websocket.StatusInternalError, "Session setup failed"
	}
}

// tokenBucket implements a simple token bucket rate limiter for
// terminal messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// termConn adapts a terminal websocket to the relay.TerminalConn
// contract. Output is queued to a dedicated writer goroutine so a slow
// browser never blocks a registry critical section; a full queue fails
// the send and the registry tears down only this session.
type termConn struct {
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	out     chan termOut
	closeCh chan termClose
	done    chan struct{}
	once    sync.Once
}

type termOut struct {
	msgType websocket.MessageType
	data    []byte
}

type termClose struct {
	code   websocket.StatusCode
	reason string
}

func newTermConn(parent context.Context, conn *websocket.Conn) *termConn {
	ctx, cancel := context.WithCancel(parent)
	t := &termConn{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan termOut, termSendBuffer),
		closeCh: make(chan termClose, 1),
		done:    make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

func (t *termConn) writeLoop() {
	defer close(t.done)

	for {
		select {
		case <-t.ctx.Done():
			return
		case m := <-t.out:
			if !t.write(m) {
				return
			}
		case c := <-t.closeCh:
			// Flush output queued ahead of the close notice.
			for {
				select {
				case m := <-t.out:
					if !t.write(m) {
						return
					}
					continue
				default:
				}
				break
			}
			t.conn.Close(c.code, truncateReason(c.reason))
			return
		}
	}
}

func (t *termConn) write(m termOut) bool {
	wctx, cancel := context.WithTimeout(t.ctx, termWriteTimeout)
	err := t.conn.Write(wctx, m.msgType, m.data)
	cancel()
	return err == nil
}

// SendOutput queues decoded SSH output for the browser. It never
// blocks: a full queue means the consumer stopped draining and the
// error return lets the registry close this session.
func (t *termConn) SendOutput(b []byte) error {
	select {
	case t.out <- termOut{websocket.MessageBinary, b}:
		return nil
	case <-t.done:
		return net.ErrClosed
	default:
		return errors.New("terminal send queue full")
	}
}

// Close ends the socket normally with the given reason.
func (t *termConn) Close(reason string) {
	t.requestClose(websocket.StatusNormalClosure, reason)
}

// CloseError sends a JSON error envelope, then closes. This is the
// only non-binary message the relay ever sends to a terminal.
func (t *termConn) CloseError(message string) {
	env, err := json.Marshal(map[string]string{"type": "error", "message": message})
	if err == nil {
		select {
		case t.out <- termOut{websocket.MessageText, env}:
		default:
		}
	}
	t.requestClose(websocket.StatusInternalError, message)
}

func (t *termConn) requestClose(code websocket.StatusCode, reason string) {
	t.once.Do(func() {
		select {
		case t.closeCh <- termClose{code, reason}:
		case <-t.done:
		}
	})
}

// stop tears the writer down without a close handshake. The caller
// still holds the websocket and closes it on return.
func (t *termConn) stop() {
	t.cancel()
}
