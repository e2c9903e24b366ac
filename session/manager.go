package session

import (
	"log/slog"
	"sync"

	clasperrors "github.com/lumencanvas/clasp/errors"
)

// Manager is the registry of connected sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	logger   *slog.Logger
}

// NewManager creates a session registry. max <= 0 means unlimited.
func NewManager(max int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		max:      max,
		logger:   logger.With("component", "session-manager"),
	}
}

// Add registers a session, enforcing the session cap.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.sessions) >= m.max {
		return clasperrors.ErrTooManySessions
	}
	m.sessions[s.ID()] = s
	m.logger.Info("session connected", "session_id", s.ID(), "name", s.Name())
	return nil
}

// Remove unregisters and returns the session. The caller is responsible
// for closing it and tearing down its subscriptions.
func (m *Manager) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	delete(m.sessions, id)
	m.logger.Info("session disconnected", "session_id", id, "name", s.Name())
	return s, true
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of connected sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for each session until fn returns false. The snapshot
// is taken under the lock; fn runs outside it.
func (m *Manager) Range(fn func(*Session) bool) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// CloseAll removes and closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
