// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite provides SQLite implementations of the auth storage
// interfaces for single-node deployments. Timestamps are stored as unix
// microseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/holomush/sessionauth/internal/auth"
)

const userColumns = `id, email, hashed_password, session_token, reset_token, created_at, updated_at`

// CredentialStore implements auth.CredentialStore using SQLite.
type CredentialStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db *sql.DB, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{db: db, logger: logger}
}

// CreateUser stores a new user.
func (s *CredentialStore) CreateUser(ctx context.Context, email, passwordHash string) (*auth.User, error) {
	user, err := auth.NewUser(email, passwordHash)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.Truncate(time.Microsecond)
	user.UpdatedAt = user.CreatedAt

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, hashed_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID.String(), user.Email, user.PasswordHash, user.CreatedAt.UnixMicro(), user.UpdatedAt.UnixMicro())
	if err != nil {
		if isConstraintViolation(err) {
			return nil, oops.Code("USER_DUPLICATE_EMAIL").With("email", email).Wrap(auth.ErrDuplicateEmail)
		}
		return nil, auth.StorageFailure(ctx, s.logger, "USER_CREATE_FAILED", err, "operation", "insert user")
	}
	return user, nil
}

// FindUser returns the single user matching filter.
func (s *CredentialStore) FindUser(ctx context.Context, filter auth.Filter) (*auth.User, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	fields := filter.Fields()
	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		clauses = append(clauses, field+" = ?")
		args = append(args, filter[field])
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+strings.Join(clauses, " AND ")+` LIMIT 2`,
		args...)
	if err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "USER_FIND_FAILED", err,
			"operation", "select user", "fields", fields)
	}
	defer rows.Close()

	var found []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, auth.StorageFailure(ctx, s.logger, "USER_FIND_FAILED", err,
				"operation", "scan user", "fields", fields)
		}
		found = append(found, user)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "USER_FIND_FAILED", err,
			"operation", "iterate users", "fields", fields)
	}

	switch len(found) {
	case 0:
		return nil, oops.Code("USER_NOT_FOUND").With("fields", fields).Wrap(auth.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, oops.Code("USER_AMBIGUOUS").With("fields", fields).Wrap(auth.ErrAmbiguousResult)
	}
}

// UpdateUser applies changes to the user in a single statement.
func (s *CredentialStore) UpdateUser(ctx context.Context, id ulid.ULID, changes auth.Changes) error {
	if err := changes.Validate(); err != nil {
		return err
	}

	fields := changes.Fields()
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, field := range fields {
		sets = append(sets, field+" = ?")
		args = append(args, nullString(changes[field]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().UnixMicro(), id.String())

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...)
	if err != nil {
		return auth.StorageFailure(ctx, s.logger, "USER_UPDATE_FAILED", err,
			"operation", "update user", "id", id.String(), "fields", fields)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return auth.StorageFailure(ctx, s.logger, "USER_UPDATE_FAILED", err,
			"operation", "rows affected", "id", id.String())
	}
	if affected == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(rows *sql.Rows) (*auth.User, error) {
	var (
		idStr        string
		user         auth.User
		sessionToken sql.NullString
		resetToken   sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	if err := rows.Scan(&idStr, &user.Email, &user.PasswordHash, &sessionToken, &resetToken, &createdAt, &updatedAt); err != nil {
		return nil, oops.With("operation", "scan user").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.SessionToken = stringPtr(sessionToken)
	user.ResetToken = stringPtr(resetToken)
	user.CreatedAt = time.UnixMicro(createdAt).UTC()
	user.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &user, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// isConstraintViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func isConstraintViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Compile-time interface check.
var _ auth.CredentialStore = (*CredentialStore)(nil)
