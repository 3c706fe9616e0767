// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Sentinel errors. Returned errors are oops errors wrapping one of these, so
// callers branch with errors.Is and logs keep the oops code.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned by a CredentialStore when the email is already registered.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrAmbiguousResult is returned when a lookup expected to be unique matches several users.
	ErrAmbiguousResult = errors.New("ambiguous result")

	// ErrInvalidQuery is returned for an empty filter or an unrecognised filter field.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidField is returned for an unrecognised or unsettable update field.
	ErrInvalidField = errors.New("invalid field")

	// ErrStorage is returned when the backing store fails. The underlying driver
	// error is logged at the store boundary and not propagated.
	ErrStorage = errors.New("storage failure")

	ErrInvalidUser      = errors.New("invalid user")
	ErrSessionExpired   = errors.New("session expired")
	ErrDuplicateSession = errors.New("duplicate session")

	ErrEmailTaken   = errors.New("email taken")
	ErrUnknownEmail = errors.New("unknown email")
	ErrInvalidToken = errors.New("invalid token")
)
