package session

import (
	"sync"
)

// Manager is the process-wide session registry. Sessions are keyed by id
// and guarded per key: unrelated sessions never contend. Concurrent
// dispatch of the same session id is disallowed by contract upstream, but
// Lock defensively serializes it anyway.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// GetOrCreate returns the session for id, creating it with the given
// defaults when absent.
func (m *Manager) GetOrCreate(id, model string, temperature float64, maxIterations int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := New(id, model, temperature, maxIterations)
	m.sessions[id] = s
	return s
}

// Get returns the session for id, if present.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Lock acquires the per-session turn lock, creating it on first use.
// Callers must pair it with Unlock.
func (m *Manager) Lock(id string) {
	m.lockFor(id).Lock()
}

// Unlock releases the per-session turn lock.
func (m *Manager) Unlock(id string) {
	m.lockFor(id).Unlock()
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}
