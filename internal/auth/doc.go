// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the authentication core: password hashing, user
// credentials, session tokens and the operations that tie them together.
//
// # Domain Types
//
// Users are created with NewUser, which validates the email and password hash.
// Sessions are only created through a SessionRegistry; the plaintext token is
// returned to the caller once and the registry keeps its SHA256 hash.
//
// # Storage
//
// CredentialStore and SessionStore are implemented by the memory, postgres,
// sqlite and redis subpackages. Storage failures are logged by the store and
// surfaced as ErrStorage.
//
// # Sessions
//
// Registry is the base in-memory session strategy. ExpiringRegistry and
// DurableRegistry decorate any SessionRegistry with lazy expiry and durable
// persistence respectively.
//
// # Services
//
// Service coordinates registration, login, session lifecycle and password
// reset. It is created with NewService, which validates dependencies.
package auth
