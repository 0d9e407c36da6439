package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gruppen-it/firewall365-relay/internal/relay"
)

type deviceInfo struct {
	ID       string `json:"id"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
}

// ListDevices returns the devices with a live control connection.
// GET /api/v1/devices
func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	online := s.Relay.OnlineDevices()

	devices := make([]deviceInfo, 0, len(online))
	for _, id := range online {
		devices = append(devices, deviceInfo{
			ID:       id,
			Online:   true,
			Sessions: len(s.Relay.Sessions(id)),
		})
	}

	writeJSON(w, http.StatusOK, map[string][]deviceInfo{"devices": devices})
}

type sessionInfo struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionInfo(sess *relay.Session) sessionInfo {
	return sessionInfo{
		ID:        sess.ID,
		DeviceID:  sess.DeviceID,
		UserID:    sess.UserID,
		State:     sess.State().String(),
		CreatedAt: sess.CreatedAt,
	}
}

// ListDeviceSessions returns the sessions currently bound on a device.
// GET /api/v1/devices/{deviceId}/sessions
func (s *Server) ListDeviceSessions(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "Device ID required")
		return
	}

	sessions := s.Relay.Sessions(deviceID)
	result := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, toSessionInfo(sess))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":   s.Relay.IsOnline(deviceID),
		"sessions": result,
	})
}

// CloseDeviceSession force-closes one session administratively.
// DELETE /api/v1/devices/{deviceId}/sessions/{sessionId}
func (s *Server) CloseDeviceSession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	sessionID := chi.URLParam(r, "sessionId")
	if deviceID == "" || sessionID == "" {
		writeError(w, http.StatusBadRequest, "Device ID and session ID required")
		return
	}

	found := false
	for _, sess := range s.Relay.Sessions(deviceID) {
		if sess.ID == sessionID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	s.Relay.CloseTerminal(deviceID, sessionID, "closed by administrator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
