// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// CredentialStore keeps users in a map guarded by a RWMutex.
type CredentialStore struct {
	mu    sync.RWMutex
	users map[ulid.ULID]*auth.User
	now   func() time.Time
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		users: make(map[ulid.ULID]*auth.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser stores a new user.
func (s *CredentialStore) CreateUser(_ context.Context, email, passwordHash string) (*auth.User, error) {
	user, err := auth.NewUser(email, passwordHash)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == email {
			return nil, oops.Code("USER_DUPLICATE_EMAIL").With("email", email).Wrap(auth.ErrDuplicateEmail)
		}
	}
	s.users[user.ID] = user
	return user.Clone(), nil
}

// FindUser returns the single user matching filter.
func (s *CredentialStore) FindUser(_ context.Context, filter auth.Filter) (*auth.User, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *auth.User
	for _, user := range s.users {
		if !filter.Matches(user) {
			continue
		}
		if found != nil {
			return nil, oops.Code("USER_AMBIGUOUS").With("fields", filter.Fields()).Wrap(auth.ErrAmbiguousResult)
		}
		found = user
	}
	if found == nil {
		return nil, oops.Code("USER_NOT_FOUND").With("fields", filter.Fields()).Wrap(auth.ErrNotFound)
	}
	return found.Clone(), nil
}

// UpdateUser applies changes to the user atomically.
func (s *CredentialStore) UpdateUser(_ context.Context, id ulid.ULID, changes auth.Changes) error {
	if err := changes.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	changes.Apply(user, s.now())
	return nil
}

var _ auth.CredentialStore = (*CredentialStore)(nil)
