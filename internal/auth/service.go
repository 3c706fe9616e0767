// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/pkg/errutil"
)

// userLockStripes is the number of mutexes serialising per-user mutations.
const userLockStripes = 64

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service provides registration, login, session and password reset operations.
type Service struct {
	users    CredentialStore
	sessions SessionRegistry
	hasher   PasswordHasher
	logger   *slog.Logger
	observer Observer
	locks    [userLockStripes]sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service) error

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger == nil {
			return oops.Code("SERVICE_INVALID_DEPS").Errorf("logger is required")
		}
		s.logger = logger
		return nil
	}
}

// WithServiceObserver sets the observer notified of logins and session changes.
func WithServiceObserver(observer Observer) ServiceOption {
	return func(s *Service) error {
		if observer == nil {
			return oops.Code("SERVICE_INVALID_DEPS").Errorf("observer is required")
		}
		s.observer = observer
		return nil
	}
}

// NewService creates a new Service.
func NewService(users CredentialStore, sessions SessionRegistry, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("SERVICE_INVALID_DEPS").Errorf("credential store is required")
	}
	if sessions == nil {
		return nil, oops.Code("SERVICE_INVALID_DEPS").Errorf("session registry is required")
	}
	if hasher == nil {
		return nil, oops.Code("SERVICE_INVALID_DEPS").Errorf("password hasher is required")
	}

	s := &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		logger:   slog.Default(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// lockUser serialises mutations of a single user record.
func (s *Service) lockUser(id ulid.ULID) func() {
	h := fnv.New32a()
	_, _ = h.Write(id[:]) //nolint:errcheck // hash.Hash never returns an error
	m := &s.locks[h.Sum32()%userLockStripes]
	m.Lock()
	return m.Unlock
}

// RegisterUser creates a user with a hashed password.
// Returns ErrEmailTaken if the email is already registered.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (*User, error) {
	_, err := s.users.FindUser(ctx, ByEmail(email))
	switch {
	case err == nil:
		return nil, oops.Code("AUTH_EMAIL_TAKEN").With("email", email).Wrap(ErrEmailTaken)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check existing email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_EMAIL_TAKEN").With("email", email).Wrap(ErrEmailTaken)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// ValidLogin reports whether password is correct for email. Unknown users and
// storage failures read as false. A password verification always runs so the
// response time does not reveal whether the email exists.
func (s *Service) ValidLogin(ctx context.Context, email, password string) bool {
	user, err := s.users.FindUser(ctx, ByEmail(email))

	targetHash := dummyPasswordHash
	if err == nil {
		targetHash = user.PasswordHash
	} else if !errors.Is(err, ErrNotFound) {
		errutil.LogErrorContext(ctx, s.logger, "login lookup failed", err)
	}

	ok, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && user != nil {
		errutil.LogErrorContext(ctx, s.logger, "stored password hash is invalid", oops.
			With("user_id", user.ID.String()).
			Wrap(verifyErr))
	}

	valid := err == nil && verifyErr == nil && ok
	s.observer.LoginAttempt(valid)

	if valid && s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}
	return valid
}

// upgradeHash rehashes a legacy password hash. Failures are logged; the login
// has already succeeded.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password rehash failed", err)
		return
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	if err := s.users.UpdateUser(ctx, user.ID, Changes{FieldHashedPassword: &newHash}); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password rehash not stored", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// UserByEmail returns the user registered under email.
func (s *Service) UserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.users.FindUser(ctx, ByEmail(email))
	if err != nil {
		return nil, oops.Code("AUTH_USER_LOOKUP_FAILED").With("email", email).Wrap(err)
	}
	return user, nil
}

// CreateSession starts a session for the user registered under email and
// returns its token. The user's previous session, if any, is revoked.
// Returns an error wrapping ErrNotFound if no such user exists.
func (s *Service) CreateSession(ctx context.Context, email string) (string, error) {
	found, err := s.users.FindUser(ctx, ByEmail(email))
	if err != nil {
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	unlock := s.lockUser(found.ID)
	defer unlock()

	user, err := s.users.FindUser(ctx, ByID(found.ID))
	if err != nil {
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "reload user").
			Wrap(err)
	}

	token, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	hash := HashToken(token)
	if err := s.users.UpdateUser(ctx, user.ID, Changes{FieldSessionToken: &hash}); err != nil {
		s.sessions.Destroy(ctx, token)
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "record session on user").
			Wrap(err)
	}

	if user.SessionToken != nil && *user.SessionToken != hash {
		if s.sessions.Revoke(ctx, *user.SessionToken) {
			s.observer.SessionEnded(EndReasonReplaced)
		}
	}

	s.observer.SessionCreated()
	return token, nil
}

// DestroySession ends the current session of userID. It is a no-op when the
// user or session does not exist.
func (s *Service) DestroySession(ctx context.Context, userID ulid.ULID) error {
	unlock := s.lockUser(userID)
	defer unlock()

	user, err := s.users.FindUser(ctx, ByID(userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_SESSION_DESTROY_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}
	if user.SessionToken == nil {
		return nil
	}

	if s.sessions.Revoke(ctx, *user.SessionToken) {
		s.observer.SessionEnded(EndReasonLogout)
	}

	if err := s.users.UpdateUser(ctx, userID, Changes{FieldSessionToken: nil}); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_SESSION_DESTROY_FAILED").
			With("operation", "clear session on user").
			Wrap(err)
	}
	return nil
}

// EndSession destroys the session identified by token and reports whether one
// existed.
func (s *Service) EndSession(ctx context.Context, token string) bool {
	session, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return false
	}

	unlock := s.lockUser(session.UserID)
	defer unlock()

	if !s.sessions.Destroy(ctx, token) {
		return false
	}
	s.observer.SessionEnded(EndReasonLogout)

	user, err := s.users.FindUser(ctx, ByID(session.UserID))
	if err != nil || user.SessionToken == nil || *user.SessionToken != session.TokenHash {
		return true
	}
	if err := s.users.UpdateUser(ctx, user.ID, Changes{FieldSessionToken: nil}); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to clear session on user", err)
	}
	return true
}

// UserForSession returns the user owning the session token.
func (s *Service) UserForSession(ctx context.Context, token string) (*User, error) {
	session, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindUser(ctx, ByID(session.UserID))
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_USER_MISSING").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return user, nil
}

// IssueResetToken creates a password reset token for email, replacing any
// pending one. Returns ErrUnknownEmail if no user has that email.
func (s *Service) IssueResetToken(ctx context.Context, email string) (string, error) {
	user, err := s.users.FindUser(ctx, ByEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("AUTH_UNKNOWN_EMAIL").With("email", email).Wrap(ErrUnknownEmail)
		}
		return "", oops.Code("AUTH_RESET_ISSUE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", oops.Code("AUTH_RESET_ISSUE_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	if err := s.users.UpdateUser(ctx, user.ID, Changes{FieldResetToken: &hash}); err != nil {
		return "", oops.Code("AUTH_RESET_ISSUE_FAILED").
			With("operation", "store reset token").
			Wrap(err)
	}
	return token, nil
}

// ConsumeResetToken sets a new password for the user holding token and clears
// the token. Returns ErrInvalidToken if no user holds it.
func (s *Service) ConsumeResetToken(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return oops.Code("AUTH_INVALID_RESET_TOKEN").Wrapf(ErrInvalidToken, "reset token is empty")
	}
	hash := HashToken(token)

	user, err := s.findResetHolder(ctx, hash)
	if err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_CONSUME_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	// A concurrent consume may have cleared the token while we were hashing.
	holder, err := s.findResetHolder(ctx, hash)
	if err != nil {
		return err
	}
	if holder.ID != user.ID {
		return oops.Code("AUTH_INVALID_RESET_TOKEN").Wrap(ErrInvalidToken)
	}

	err = s.users.UpdateUser(ctx, user.ID, Changes{
		FieldHashedPassword: &newHash,
		FieldResetToken:     nil,
	})
	if err != nil {
		return oops.Code("AUTH_RESET_CONSUME_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return nil
}

func (s *Service) findResetHolder(ctx context.Context, tokenHash string) (*User, error) {
	user, err := s.users.FindUser(ctx, ByResetToken(tokenHash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_INVALID_RESET_TOKEN").Wrap(ErrInvalidToken)
		}
		return nil, oops.Code("AUTH_RESET_CONSUME_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}
