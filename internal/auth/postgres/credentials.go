// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

const userColumns = `id, email, hashed_password, session_token, reset_token, created_at, updated_at`

// CredentialStore implements auth.CredentialStore using PostgreSQL.
type CredentialStore struct {
	pool   poolIface
	logger *slog.Logger
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(pool poolIface, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{pool: pool, logger: logger}
}

// CreateUser stores a new user.
func (s *CredentialStore) CreateUser(ctx context.Context, email, passwordHash string) (*auth.User, error) {
	user, err := auth.NewUser(email, passwordHash)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.Truncate(time.Microsecond)
	user.UpdatedAt = user.CreatedAt

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, email, hashed_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID.String(), user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
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
	for i, field := range fields {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", field, i+1))
		args = append(args, filter[field])
	}

	// LIMIT 2 is enough to tell a unique match from an ambiguous one.
	rows, err := s.pool.Query(ctx,
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
	args = append(args, id.String())
	for _, field := range fields {
		args = append(args, changes[field])
		sets = append(sets, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	args = append(args, time.Now().UTC().Truncate(time.Microsecond))
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	result, err := s.pool.Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`,
		args...)
	if err != nil {
		return auth.StorageFailure(ctx, s.logger, "USER_UPDATE_FAILED", err,
			"operation", "update user", "id", id.String(), "fields", fields)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr        string
		user         auth.User
		sessionToken *string
		resetToken   *string
	)
	err := row.Scan(&idStr, &user.Email, &user.PasswordHash, &sessionToken, &resetToken, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, oops.With("operation", "scan user").Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.SessionToken = sessionToken
	user.ResetToken = resetToken
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.CredentialStore = (*CredentialStore)(nil)
