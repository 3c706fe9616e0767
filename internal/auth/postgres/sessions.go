// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// SessionStore implements auth.SessionStore using the user_sessions table.
type SessionStore struct {
	pool   poolIface
	logger *slog.Logger
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool poolIface, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{pool: pool, logger: logger}
}

// Save stores a new session.
func (s *SessionStore) Save(ctx context.Context, session *auth.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_sessions (session_id, user_id, created_at)
		VALUES ($1, $2, $3)
	`, session.TokenHash, session.UserID.String(), session.CreatedAt.Truncate(time.Microsecond))
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SESSION_DUPLICATE").Wrap(auth.ErrDuplicateSession)
		}
		return auth.StorageFailure(ctx, s.logger, "SESSION_SAVE_FAILED", err,
			"operation", "insert user_session", "user_id", session.UserID.String())
	}
	return nil
}

// Load retrieves a session by token hash.
func (s *SessionStore) Load(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		userIDStr string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, created_at FROM user_sessions WHERE session_id = $1
	`, tokenHash).Scan(&userIDStr, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "SESSION_LOAD_FAILED", err,
			"operation", "select user_session")
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "SESSION_INVALID_USER_ID", err,
			"operation", "parse user id", "user_id", userIDStr)
	}
	return &auth.Session{TokenHash: tokenHash, UserID: userID, CreatedAt: createdAt}, nil
}

// Remove deletes a session and reports whether it existed.
func (s *SessionStore) Remove(ctx context.Context, tokenHash string) (bool, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE session_id = $1`, tokenHash)
	if err != nil {
		return false, auth.StorageFailure(ctx, s.logger, "SESSION_DELETE_FAILED", err,
			"operation", "delete user_session")
	}
	return result.RowsAffected() > 0, nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
