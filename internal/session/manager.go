package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Manager keeps one Session per client so concurrent clients never share
// connection state.
type Manager struct {
	open   Opener
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(open Opener, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		open:     open,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// New registers a fresh disconnected session and returns its ID.
func (m *Manager) New() (string, *Session) {
	id := uuid.NewString()
	s := New(m.open, m.logger.With(slog.String("session", id)))

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return id, s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// Remove disconnects and forgets the session. Unknown IDs are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Disconnect()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll disconnects every session, used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}
