// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis provides a Redis-backed auth.SessionStore. Keys outlive the
// session duration by a grace period: expiry is decided by the registry on
// read, and Redis only evicts sessions nobody came back for.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "session:"

// pingTimeout bounds the connectivity check in Open.
const pingTimeout = 2 * time.Second

// MinExpiryGrace is the shortest time a key is kept past its session duration.
const MinExpiryGrace = time.Minute

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *SessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithSessionDuration sets the session duration the keys must outlive.
// Zero keeps keys until they are removed.
func WithSessionDuration(d time.Duration) Option {
	return func(s *SessionStore) {
		s.ttl = KeyTTL(d)
	}
}

// KeyTTL returns the Redis key lifetime for a session duration: the
// duration plus the larger of itself and MinExpiryGrace.
func KeyTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + max(d, MinExpiryGrace)
}

// WithLogger sets the logger used for storage failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SessionStore implements auth.SessionStore on Redis strings holding JSON.
type SessionStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type record struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Open connects to Redis and verifies the server answers a ping.
func Open(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, nil
}

// NewSessionStore creates a SessionStore over client.
func NewSessionStore(client *goredis.Client, opts ...Option) *SessionStore {
	s := &SessionStore{client: client, prefix: DefaultKeyPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Save stores a new session unless the hash is already live.
func (s *SessionStore) Save(ctx context.Context, session *auth.Session) error {
	data, err := json.Marshal(record{UserID: session.UserID.String(), CreatedAt: session.CreatedAt})
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("operation", "marshal session").Wrap(err)
	}

	stored, err := s.client.SetNX(ctx, s.key(session.TokenHash), data, s.ttl).Result()
	if err != nil {
		return auth.StorageFailure(ctx, s.logger, "SESSION_SAVE_FAILED", err,
			"operation", "setnx session", "user_id", session.UserID.String())
	}
	if !stored {
		return oops.Code("SESSION_DUPLICATE").Wrap(auth.ErrDuplicateSession)
	}
	return nil
}

// Load retrieves a session by token hash.
func (s *SessionStore) Load(ctx context.Context, tokenHash string) (*auth.Session, error) {
	val, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "SESSION_LOAD_FAILED", err, "operation", "get session")
	}

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "SESSION_LOAD_FAILED", err, "operation", "unmarshal session")
	}
	userID, err := ulid.Parse(rec.UserID)
	if err != nil {
		return nil, auth.StorageFailure(ctx, s.logger, "SESSION_INVALID_USER_ID", err,
			"operation", "parse user id", "user_id", rec.UserID)
	}
	return &auth.Session{TokenHash: tokenHash, UserID: userID, CreatedAt: rec.CreatedAt}, nil
}

// Remove deletes a session and reports whether it existed.
func (s *SessionStore) Remove(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, auth.StorageFailure(ctx, s.logger, "SESSION_DELETE_FAILED", err, "operation", "del session")
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
