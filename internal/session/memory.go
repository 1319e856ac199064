package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"docchat/internal/models"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore keeps sessions in process. Sessions idle longer than ttl are dropped;
// ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.SessionState),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	state := newState(m.now())
	m.sessions[state.ID] = state.Clone()
	return state, nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*models.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok || m.expired(state) {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *models.SessionState) error {
	if state == nil || state.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[state.ID]; !ok {
		return ErrNotFound
	}
	state.UpdatedAt = m.now()
	m.sessions[state.ID] = state.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) expired(state *models.SessionState) bool {
	return m.ttl > 0 && m.now().Sub(state.UpdatedAt) > m.ttl
}

func (m *MemoryStore) pruneLocked() {
	for id, state := range m.sessions {
		if m.expired(state) {
			delete(m.sessions, id)
		}
	}
}
