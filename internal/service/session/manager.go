package session

import (
	"context"
	"sync"

	"payportal/internal/domain"
)

// Creator mints tokenization sessions; satisfied by the gateway client.
type Creator interface {
	CreateSession(ctx context.Context) (domain.Session, error)
}

// Manager caches the current tokenization session. Sessions are invalidated
// and replaced, never mutated in place.
type Manager struct {
	creator Creator

	mu      sync.Mutex
	current *domain.Session
}

func NewManager(creator Creator) *Manager {
	return &Manager{creator: creator}
}

// Ensure returns the cached session id unless forceNew is set or no session
// exists, in which case a fresh one is minted and cached.
func (m *Manager) Ensure(ctx context.Context, forceNew bool) (string, error) {
	m.mu.Lock()
	if !forceNew && m.current != nil {
		id := m.current.SessionID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	session, err := m.creator.CreateSession(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.current = &session
	m.mu.Unlock()
	return session.SessionID, nil
}

// Reset drops the cached session without calling the gateway.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}
