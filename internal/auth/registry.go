// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Clock returns the current time.
type Clock func() time.Time

// defaultTokenAttempts bounds token regeneration after a hash collision.
const defaultTokenAttempts = 3

// RegistryOption configures a session registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	clock    Clock
	logger   *slog.Logger
	tokens   func() (token, hash string, err error)
	observer Observer
	attempts uint64
}

func newRegistryOptions(opts []RegistryOption) registryOptions {
	o := registryOptions{
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		tokens:   GenerateSessionToken,
		observer: NopObserver{},
		attempts: defaultTokenAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source.
func WithClock(clock Clock) RegistryOption {
	return func(o *registryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger used for storage failures.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTokenGenerator overrides session token generation.
func WithTokenGenerator(fn func() (token, hash string, err error)) RegistryOption {
	return func(o *registryOptions) {
		if fn != nil {
			o.tokens = fn
		}
	}
}

// WithObserver reports lazily expired sessions.
func WithObserver(observer Observer) RegistryOption {
	return func(o *registryOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// Registry is the base session strategy. It issues random tokens and keeps
// their hashes in a SessionStore.
type Registry struct {
	store    SessionStore
	now      Clock
	logger   *slog.Logger
	newToken func() (token, hash string, err error)
	attempts uint64
}

// NewRegistry creates a Registry over store.
func NewRegistry(store SessionStore, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, oops.Code("REGISTRY_INVALID_STORE").Errorf("session store is required")
	}
	o := newRegistryOptions(opts)
	return &Registry{
		store:    store,
		now:      o.clock,
		logger:   o.logger,
		newToken: o.tokens,
		attempts: o.attempts,
	}, nil
}

// CreateSession issues a token for userID. A token whose hash collides with a
// live session is regenerated.
func (r *Registry) CreateSession(ctx context.Context, userID ulid.ULID) (string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("SESSION_INVALID_USER").Wrapf(ErrInvalidUser, "user ID cannot be zero")
	}

	var token string
	backoff := retry.WithMaxRetries(r.attempts, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		candidate, hash, err := r.newToken()
		if err != nil {
			return err
		}
		session, err := NewSession(hash, userID, r.now())
		if err != nil {
			return err
		}
		if err := r.store.Save(ctx, session); err != nil {
			if errors.Is(err, ErrDuplicateSession) {
				return retry.RetryableError(err)
			}
			return err
		}
		token = candidate
		return nil
	})
	if err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// Resolve returns the session for token.
func (r *Registry) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrapf(ErrNotFound, "session token is empty")
	}
	return r.store.Load(ctx, HashToken(token))
}

// Destroy removes the session for token.
func (r *Registry) Destroy(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	return r.Revoke(ctx, HashToken(token))
}

// Revoke removes the session stored under tokenHash. Store failures were
// already logged by the store and read as "nothing removed".
func (r *Registry) Revoke(ctx context.Context, tokenHash string) bool {
	removed, err := r.store.Remove(ctx, tokenHash)
	if err != nil {
		r.logger.DebugContext(ctx, "session revoke failed", "error", err)
		return false
	}
	return removed
}

// ExpiringRegistry decorates a SessionRegistry with lazy expiry: a session
// older than the TTL is revoked when it is next resolved.
type ExpiringRegistry struct {
	SessionRegistry
	ttl      time.Duration
	now      Clock
	observer Observer
}

// NewExpiringRegistry wraps inner. A zero ttl never expires.
func NewExpiringRegistry(inner SessionRegistry, ttl time.Duration, opts ...RegistryOption) (*ExpiringRegistry, error) {
	if inner == nil {
		return nil, oops.Code("REGISTRY_INVALID_INNER").Errorf("inner session registry is required")
	}
	if ttl < 0 {
		return nil, oops.Code("REGISTRY_INVALID_TTL").With("ttl", ttl).Errorf("session duration cannot be negative")
	}
	o := newRegistryOptions(opts)
	return &ExpiringRegistry{
		SessionRegistry: inner,
		ttl:             ttl,
		now:             o.clock,
		observer:        o.observer,
	}, nil
}

// TTL returns the configured session duration.
func (r *ExpiringRegistry) TTL() time.Duration {
	return r.ttl
}

// Resolve returns the session for token, revoking it if it has expired.
func (r *ExpiringRegistry) Resolve(ctx context.Context, token string) (*Session, error) {
	session, err := r.SessionRegistry.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.IsExpiredAt(r.now(), r.ttl) {
		r.SessionRegistry.Revoke(ctx, session.TokenHash)
		r.observer.SessionEnded(EndReasonExpired)
		return nil, oops.Code("SESSION_EXPIRED").
			With("user_id", session.UserID.String()).
			With("created_at", session.CreatedAt).
			Wrap(ErrSessionExpired)
	}
	return session, nil
}

// DurableRegistry decorates a base registry with a durable SessionStore.
// The base only mints tokens and keeps no copy of them; the durable store
// holds every live session so sessions survive a restart.
type DurableRegistry struct {
	base     SessionRegistry
	durable  SessionStore
	logger   *slog.Logger
	attempts uint64
}

// NewDurableRegistry wraps base with durable persistence.
func NewDurableRegistry(base SessionRegistry, durable SessionStore, opts ...RegistryOption) (*DurableRegistry, error) {
	if base == nil {
		return nil, oops.Code("REGISTRY_INVALID_INNER").Errorf("base session registry is required")
	}
	if durable == nil {
		return nil, oops.Code("REGISTRY_INVALID_STORE").Errorf("durable session store is required")
	}
	o := newRegistryOptions(opts)
	return &DurableRegistry{base: base, durable: durable, logger: o.logger, attempts: o.attempts}, nil
}

// CreateSession mints a token through the base registry and persists it.
// The base entry is dropped as soon as it has been read back, and a hash
// already live in the durable store is regenerated.
func (r *DurableRegistry) CreateSession(ctx context.Context, userID ulid.ULID) (string, error) {
	var token string
	backoff := retry.WithMaxRetries(r.attempts, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		candidate, err := r.base.CreateSession(ctx, userID)
		if err != nil {
			return err
		}
		session, err := r.base.Resolve(ctx, candidate)
		r.base.Destroy(ctx, candidate)
		if err != nil {
			return err
		}
		if err := r.durable.Save(ctx, session); err != nil {
			if errors.Is(err, ErrDuplicateSession) {
				return retry.RetryableError(err)
			}
			return err
		}
		token = candidate
		return nil
	})
	if err != nil {
		return "", oops.Code("SESSION_PERSIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// Resolve reads the session from the durable store.
func (r *DurableRegistry) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrapf(ErrNotFound, "session token is empty")
	}
	return r.durable.Load(ctx, HashToken(token))
}

// Destroy removes the session for token.
func (r *DurableRegistry) Destroy(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	return r.Revoke(ctx, HashToken(token))
}

// Revoke removes the session stored under tokenHash.
func (r *DurableRegistry) Revoke(ctx context.Context, tokenHash string) bool {
	removed, err := r.durable.Remove(ctx, tokenHash)
	if err != nil {
		r.logger.DebugContext(ctx, "durable session revoke failed", "error", err)
		return false
	}
	return removed
}

// Compile-time interface checks.
var (
	_ SessionRegistry = (*Registry)(nil)
	_ SessionRegistry = (*ExpiringRegistry)(nil)
	_ SessionRegistry = (*DurableRegistry)(nil)
)
