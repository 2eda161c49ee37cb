// ABOUTME: Mock SessionStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory SessionStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ SessionStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*Session)}
}

// OpenSession stores a new session.
func (m *MockStore) OpenSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrDuplicateSession
	}
	// Make a copy to avoid external modification
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// MarkReminded sets the reminder time.
func (m *MockStore) MarkReminded(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RemindedAt = at
	return nil
}

// CloseSession sets the closure time.
func (m *MockStore) CloseSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ClosedAt = at
	return nil
}

// GetSession returns a copy of a session.
func (m *MockStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ListOpenSessions returns copies of open sessions ordered by opening time.
func (m *MockStore) ListOpenSessions(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Open() {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Stats counts sessions.
func (m *MockStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	for _, s := range m.sessions {
		if s.Open() {
			st.Open++
		} else {
			st.Closed++
		}
		if !s.RemindedAt.IsZero() {
			st.Reminded++
		}
	}
	return st, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
