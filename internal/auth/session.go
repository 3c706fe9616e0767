// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the size of a session token before hex encoding.
const SessionTokenBytes = 32 // 32 bytes = 64 hex chars

// Session associates a session token with a user.
// Only the SHA256 hash of the token is kept server side.
type Session struct {
	TokenHash string
	UserID    ulid.ULID
	CreatedAt time.Time
}

// NewSession creates a validated Session instance.
func NewSession(tokenHash string, userID ulid.ULID, createdAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Wrap(ErrInvalidUser)
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if createdAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_CREATED_AT").Errorf("creation time cannot be zero")
	}
	return &Session{TokenHash: tokenHash, UserID: userID, CreatedAt: createdAt}, nil
}

// IsExpiredAt reports whether the session is older than ttl at time t.
// A non-positive ttl never expires.
func (s *Session) IsExpiredAt(t time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return t.Sub(s.CreatedAt) > ttl
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken computes the hex-encoded SHA256 hash of a session or reset token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks if the plaintext token matches the stored hash in constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	// Save stores a new session. Returns ErrDuplicateSession if the hash is already live.
	Save(ctx context.Context, session *Session) error

	// Load retrieves a session by token hash. Returns ErrNotFound if absent.
	Load(ctx context.Context, tokenHash string) (*Session, error)

	// Remove deletes a session and reports whether it existed.
	Remove(ctx context.Context, tokenHash string) (bool, error)
}

// SessionRegistry maps session tokens to users.
type SessionRegistry interface {
	// CreateSession issues a new token for the user. Returns ErrInvalidUser for a zero id.
	CreateSession(ctx context.Context, userID ulid.ULID) (string, error)

	// Resolve returns the session for a token, or an error wrapping ErrNotFound,
	// ErrSessionExpired or ErrStorage.
	Resolve(ctx context.Context, token string) (*Session, error)

	// Destroy removes the session for a token. Returns false if none existed.
	Destroy(ctx context.Context, token string) bool

	// Revoke removes a session by its stored hash. Returns false if none existed.
	Revoke(ctx context.Context, tokenHash string) bool
}
