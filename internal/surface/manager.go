// Package surface serves the websocket channel between the backend and a
// connected UI surface (a browser tab or mini-app webview).
package surface

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a websocket connection the manager needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

type entry struct {
	userID string
	conn   Conn
}

// Manager tracks live surfaces per login session. A session may have
// several surfaces open at once, one per tab.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]entry // sessionID -> surfaceID -> entry
}

// NewManager creates an empty surface manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]entry),
	}
}

// Register adds a surface for a session.
func (m *Manager) Register(userID, sessionID, surfaceID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[string]entry)
	}
	m.active[sessionID][surfaceID] = entry{userID: userID, conn: conn}
	slog.Info("UI surface registered", "user_id", userID, "session_id", sessionID, "surface_id", surfaceID)
}

// Unregister removes a surface; unknown surfaces are ignored.
func (m *Manager) Unregister(sessionID, surfaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	surfaces, ok := m.active[sessionID]
	if !ok {
		return
	}
	if _, exists := surfaces[surfaceID]; !exists {
		return
	}
	delete(surfaces, surfaceID)
	if len(surfaces) == 0 {
		delete(m.active, sessionID)
	}
	slog.Info("UI surface unregistered", "session_id", sessionID, "surface_id", surfaceID)
}

// Count returns the number of live surfaces for a session.
func (m *Manager) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every surface of a signed-out or expired session.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	surfaces := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for sid, e := range surfaces {
		if err := e.conn.Close(websocket.StatusPolicyViolation, "signed out"); err != nil {
			slog.Debug("Failed to close UI surface", "error", err, "session_id", sessionID, "surface_id", sid)
		}
		slog.Info("UI surface closed", "user_id", e.userID, "session_id", sessionID, "surface_id", sid)
	}
}

// CloseAll closes every surface, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]map[string]entry)
	m.mu.Unlock()

	for sessionID, surfaces := range all {
		for sid, e := range surfaces {
			if err := e.conn.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
				slog.Debug("Failed to close UI surface", "error", err, "session_id", sessionID, "surface_id", sid)
			}
		}
	}
}
