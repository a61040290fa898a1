package session

import (
	"sync"
)

// Manager tracks live sessions by call id so the HTTP control surface can
// reach them. Sessions register once their call id is bound.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Bind registers s under its current call id, replacing any stale entry.
func (m *Manager) Bind(s *Session) {
	id := s.CallID()
	if id == "" {
		return
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
}

// Unbind removes s if it is still the registered session for its id.
func (m *Manager) Unbind(s *Session) {
	id := s.CallID()
	if id == "" {
		return
	}
	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

// Get returns the live session for a call id.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
