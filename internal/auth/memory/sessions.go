// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// SessionStore keeps sessions in a map keyed by token hash.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]auth.Session)}
}

// Save stores a new session.
func (s *SessionStore) Save(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.TokenHash]; ok {
		return oops.Code("SESSION_DUPLICATE").Wrap(auth.ErrDuplicateSession)
	}
	s.sessions[session.TokenHash] = *session
	return nil
}

// Load retrieves a session by token hash.
func (s *SessionStore) Load(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &session, nil
}

// Remove deletes a session and reports whether it existed.
func (s *SessionStore) Remove(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[tokenHash]; !ok {
		return false, nil
	}
	delete(s.sessions, tokenHash)
	return true, nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ auth.SessionStore = (*SessionStore)(nil)
