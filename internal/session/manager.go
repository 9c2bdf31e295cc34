package session

import (
	"sync"

	"github.com/lox/gaspvt/internal/grid"
)

// Manager owns the sessions served by one process.
type Manager struct {
	svc    Service
	ledger Ledger
	cfg    Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a manager whose sessions share svc, ledger and cfg.
func NewManager(svc Service, ledger Ledger, cfg Config) *Manager {
	return &Manager{
		svc:      svc,
		ledger:   ledger,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Create starts a session backed by an in-memory grid.
func (m *Manager) Create() *Session {
	s := New(m.svc, grid.NewMemory(m.cfg.Rows), m.ledger, m.cfg)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete drops a session and cancels its pending calculation.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.abortLocked()
		s.mu.Unlock()
	}
	return ok
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
