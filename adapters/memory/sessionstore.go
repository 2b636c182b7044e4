package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
)

// SessionStore is an in-memory implementation of ports.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]security.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]security.Session),
	}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess security.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return ports.ErrSessionExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (security.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return security.Session{}, ports.ErrNotFound
	}
	return sess, nil
}

// Update replaces an existing session.
func (s *SessionStore) Update(ctx context.Context, sess security.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return ports.ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteIfExpired removes the session if it is expired at now.
func (s *SessionStore) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.IsExpired(now) {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// DeleteExpired removes sessions whose deadline is not after now.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored sessions.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
