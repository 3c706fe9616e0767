// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// basicPrefix is the Authorization scheme label, including its single space.
const basicPrefix = "Basic "

// Credentials are the raw credential values carried by a request.
type Credentials struct {
	Authorization string
	SessionToken  string
}

// Empty reports whether the request carried no credential at all.
func (c Credentials) Empty() bool {
	return c.Authorization == "" && c.SessionToken == ""
}

// Authenticator resolves credentials to a user. It returns false for any
// credential it cannot turn into a user; it never reports why.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*auth.User, bool)
}

// Anonymous resolves nobody.
type Anonymous struct{}

// Authenticate always returns false.
func (Anonymous) Authenticate(context.Context, Credentials) (*auth.User, bool) {
	return nil, false
}

// BasicAuthenticator checks an email:password pair from the Authorization header.
type BasicAuthenticator struct {
	users  auth.CredentialStore
	hasher auth.PasswordHasher
	logger *slog.Logger
}

// NewBasicAuthenticator creates a BasicAuthenticator.
func NewBasicAuthenticator(users auth.CredentialStore, hasher auth.PasswordHasher, logger *slog.Logger) (*BasicAuthenticator, error) {
	if users == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("password hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BasicAuthenticator{users: users, hasher: hasher, logger: logger}, nil
}

// ExtractBasicCredentials decodes a "Basic <base64(email:password)>" header.
// The payload is split on its first colon, so passwords may contain colons.
func ExtractBasicCredentials(header string) (email, password string, ok bool) {
	encoded, found := strings.CutPrefix(header, basicPrefix)
	if !found {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

// Authenticate looks up the header's email and verifies its password.
func (a *BasicAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*auth.User, bool) {
	email, password, ok := ExtractBasicCredentials(creds.Authorization)
	if !ok {
		return nil, false
	}

	user, err := a.users.FindUser(ctx, auth.ByEmail(email))
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			a.logger.WarnContext(ctx, "basic auth lookup failed", "error", err)
		}
		return nil, false
	}

	match, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		a.logger.WarnContext(ctx, "basic auth verify failed", "user_id", user.ID.String(), "error", err)
		return nil, false
	}
	if !match {
		return nil, false
	}
	return user, true
}

// SessionAuthenticator resolves the session cookie through a SessionRegistry.
type SessionAuthenticator struct {
	sessions auth.SessionRegistry
	users    auth.CredentialStore
	logger   *slog.Logger
}

// NewSessionAuthenticator creates a SessionAuthenticator.
func NewSessionAuthenticator(sessions auth.SessionRegistry, users auth.CredentialStore, logger *slog.Logger) (*SessionAuthenticator, error) {
	if sessions == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("session registry is required")
	}
	if users == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("credential store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionAuthenticator{sessions: sessions, users: users, logger: logger}, nil
}

// Authenticate resolves the session token and loads its user. Missing and
// expired sessions both resolve to nobody.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*auth.User, bool) {
	if creds.SessionToken == "" {
		return nil, false
	}

	session, err := a.sessions.Resolve(ctx, creds.SessionToken)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrSessionExpired) {
			a.logger.WarnContext(ctx, "session resolve failed", "error", err)
		}
		return nil, false
	}

	user, err := a.users.FindUser(ctx, auth.ByID(session.UserID))
	if err != nil {
		a.logger.DebugContext(ctx, "session user lookup failed", "user_id", session.UserID.String(), "error", err)
		return nil, false
	}
	return user, true
}

// Dependencies are the collaborators an Authenticator may need.
type Dependencies struct {
	Users    auth.CredentialStore
	Sessions auth.SessionRegistry
	Hasher   auth.PasswordHasher
	Logger   *slog.Logger
}

// NewAuthenticator returns the strategy for scheme.
func NewAuthenticator(scheme Scheme, deps Dependencies) (Authenticator, error) {
	switch {
	case scheme == SchemeNone:
		return Anonymous{}, nil
	case scheme == SchemeBasic:
		return NewBasicAuthenticator(deps.Users, deps.Hasher, deps.Logger)
	case scheme.UsesSessions():
		return NewSessionAuthenticator(deps.Sessions, deps.Users, deps.Logger)
	default:
		return nil, oops.Code("GATE_UNKNOWN_SCHEME").With("scheme", string(scheme)).Errorf("unknown auth scheme %q", scheme)
	}
}

// Compile-time interface checks.
var (
	_ Authenticator = Anonymous{}
	_ Authenticator = (*BasicAuthenticator)(nil)
	_ Authenticator = (*SessionAuthenticator)(nil)
)
