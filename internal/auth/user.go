// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// User is a registered account.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	SessionToken *string // SHA256 hash of the latest session token, nil if logged out
	ResetToken   *string // SHA256 hash of the pending reset token, nil if none
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User with a fresh ID.
func NewUser(email, passwordHash string) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	if u.SessionToken != nil {
		c.SessionToken = lo.ToPtr(*u.SessionToken)
	}
	if u.ResetToken != nil {
		c.ResetToken = lo.ToPtr(*u.ResetToken)
	}
	return &c
}

// Field names recognised by CredentialStore lookups and updates.
const (
	FieldID             = "id"
	FieldEmail          = "email"
	FieldHashedPassword = "hashed_password"
	FieldSessionToken   = "session_token"
	FieldResetToken     = "reset_token"
)

var (
	filterFields = []string{FieldID, FieldEmail, FieldSessionToken, FieldResetToken}
	changeFields = []string{FieldHashedPassword, FieldSessionToken, FieldResetToken}
)

// Filter is a set of equality constraints used to look up a user.
type Filter map[string]string

// ByID matches a user by ID.
func ByID(id ulid.ULID) Filter { return Filter{FieldID: id.String()} }

// ByEmail matches a user by email.
func ByEmail(email string) Filter { return Filter{FieldEmail: email} }

// BySessionToken matches a user by the hash of their session token.
func BySessionToken(tokenHash string) Filter { return Filter{FieldSessionToken: tokenHash} }

// ByResetToken matches a user by the hash of their reset token.
func ByResetToken(tokenHash string) Filter { return Filter{FieldResetToken: tokenHash} }

// Validate rejects empty filters and unrecognised fields.
func (f Filter) Validate() error {
	if len(f) == 0 {
		return oops.Code("USER_INVALID_QUERY").Wrapf(ErrInvalidQuery, "filter cannot be empty")
	}
	for field := range f {
		if !slices.Contains(filterFields, field) {
			return oops.Code("USER_INVALID_QUERY").With("field", field).Wrap(ErrInvalidQuery)
		}
	}
	return nil
}

// Fields returns the filter fields in a stable order.
func (f Filter) Fields() []string {
	fields := lo.Keys(f)
	slices.Sort(fields)
	return fields
}

// Matches reports whether the user satisfies every constraint.
// The filter must have been validated.
func (f Filter) Matches(u *User) bool {
	for field, want := range f {
		var got *string
		switch field {
		case FieldID:
			got = lo.ToPtr(u.ID.String())
		case FieldEmail:
			got = &u.Email
		case FieldSessionToken:
			got = u.SessionToken
		case FieldResetToken:
			got = u.ResetToken
		}
		if got == nil || *got != want {
			return false
		}
	}
	return true
}

// Changes is a set of field updates applied atomically. A nil value clears
// a nullable field.
type Changes map[string]*string

// Validate rejects empty change sets, unrecognised fields and attempts to
// clear the password hash.
func (c Changes) Validate() error {
	if len(c) == 0 {
		return oops.Code("USER_INVALID_FIELD").Wrapf(ErrInvalidField, "no fields to update")
	}
	for field, value := range c {
		if !slices.Contains(changeFields, field) {
			return oops.Code("USER_INVALID_FIELD").With("field", field).Wrap(ErrInvalidField)
		}
		if field == FieldHashedPassword && (value == nil || *value == "") {
			return oops.Code("USER_INVALID_FIELD").With("field", field).Wrapf(ErrInvalidField, "password hash cannot be empty")
		}
	}
	return nil
}

// Fields returns the changed fields in a stable order.
func (c Changes) Fields() []string {
	fields := lo.Keys(c)
	slices.Sort(fields)
	return fields
}

// Apply writes the changes onto u. The change set must have been validated.
func (c Changes) Apply(u *User, now time.Time) {
	for field, value := range c {
		switch field {
		case FieldHashedPassword:
			u.PasswordHash = *value
		case FieldSessionToken:
			u.SessionToken = cloneValue(value)
		case FieldResetToken:
			u.ResetToken = cloneValue(value)
		}
	}
	u.UpdatedAt = now
}

func cloneValue(v *string) *string {
	if v == nil {
		return nil
	}
	return lo.ToPtr(*v)
}

// CredentialStore persists user records.
type CredentialStore interface {
	// CreateUser stores a new user. Returns ErrDuplicateEmail if the email is taken.
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)

	// FindUser returns the single user matching filter. Returns ErrInvalidQuery,
	// ErrNotFound or ErrAmbiguousResult.
	FindUser(ctx context.Context, filter Filter) (*User, error)

	// UpdateUser applies changes atomically. Returns ErrInvalidField or ErrNotFound.
	UpdateUser(ctx context.Context, id ulid.ULID, changes Changes) error
}

type userContextKey struct{}

// WithUser binds the authenticated user to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the user bound by WithUser, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*User)
	return u, ok && u != nil
}
