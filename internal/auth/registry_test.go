// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	"github.com/holomush/sessionauth/internal/auth/mocks"
	"github.com/holomush/sessionauth/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu      sync.Mutex
	logins  []bool
	created int
	endings []string
}

func (o *recordingObserver) LoginAttempt(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins = append(o.logins, success)
}

func (o *recordingObserver) SessionCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *recordingObserver) SessionEnded(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endings = append(o.endings, reason)
}

func TestNewRegistry_NilStore(t *testing.T) {
	reg, err := auth.NewRegistry(nil)
	require.Error(t, err)
	assert.Nil(t, reg)
	errutil.AssertErrorCode(t, err, "REGISTRY_INVALID_STORE")
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("create and resolve", func(t *testing.T) {
		clock := newFakeClock()
		reg, err := auth.NewRegistry(memory.NewSessionStore(), auth.WithClock(clock.Now))
		require.NoError(t, err)

		userID := ulid.Make()
		token, err := reg.CreateSession(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, token, 64)

		session, err := reg.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, session.UserID)
		assert.Equal(t, clock.Now(), session.CreatedAt)
		assert.Equal(t, auth.HashToken(token), session.TokenHash)
	})

	t.Run("each session gets a distinct token", func(t *testing.T) {
		reg, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)

		userID := ulid.Make()
		t1, err := reg.CreateSession(ctx, userID)
		require.NoError(t, err)
		t2, err := reg.CreateSession(ctx, userID)
		require.NoError(t, err)
		assert.NotEqual(t, t1, t2)
	})

	t.Run("zero user id is rejected", func(t *testing.T) {
		store := memory.NewSessionStore()
		reg, err := auth.NewRegistry(store)
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.ULID{})
		errutil.AssertErrorIs(t, err, auth.ErrInvalidUser, "SESSION_INVALID_USER")
		assert.Empty(t, token)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("unknown and empty tokens do not resolve", func(t *testing.T) {
		reg, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)

		_, err = reg.Resolve(ctx, "")
		require.ErrorIs(t, err, auth.ErrNotFound)
		_, err = reg.Resolve(ctx, "not-a-token")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("destroy is idempotent", func(t *testing.T) {
		reg, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		assert.True(t, reg.Destroy(ctx, token))
		assert.False(t, reg.Destroy(ctx, token))
		assert.False(t, reg.Destroy(ctx, ""))

		_, err = reg.Resolve(ctx, token)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("revoke by hash", func(t *testing.T) {
		reg, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		assert.True(t, reg.Revoke(ctx, auth.HashToken(token)))
		_, err = reg.Resolve(ctx, token)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("hash collision regenerates token", func(t *testing.T) {
		store := memory.NewSessionStore()
		tokens := []string{"same", "same", "different"}
		var calls int
		gen := func() (string, string, error) {
			tok := tokens[calls]
			calls++
			return tok, auth.HashToken(tok), nil
		}
		reg, err := auth.NewRegistry(store, auth.WithTokenGenerator(gen))
		require.NoError(t, err)

		first, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)
		second, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		assert.Equal(t, "same", first)
		assert.Equal(t, "different", second)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("token generation failure", func(t *testing.T) {
		gen := func() (string, string, error) { return "", "", errors.New("entropy exhausted") }
		reg, err := auth.NewRegistry(memory.NewSessionStore(), auth.WithTokenGenerator(gen))
		require.NoError(t, err)

		_, err = reg.CreateSession(ctx, ulid.Make())
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
	})

	t.Run("store failure on revoke reads as false", func(t *testing.T) {
		store := mocks.NewMockSessionStore(t)
		store.On("Remove", ctx, "h").Return(false, auth.ErrStorage)
		reg, err := auth.NewRegistry(store)
		require.NoError(t, err)

		assert.False(t, reg.Revoke(ctx, "h"))
	})
}

func TestNewExpiringRegistry_Validation(t *testing.T) {
	base, err := auth.NewRegistry(memory.NewSessionStore())
	require.NoError(t, err)

	_, err = auth.NewExpiringRegistry(nil, time.Minute)
	errutil.AssertErrorCode(t, err, "REGISTRY_INVALID_INNER")

	_, err = auth.NewExpiringRegistry(base, -time.Second)
	errutil.AssertErrorCode(t, err, "REGISTRY_INVALID_TTL")

	reg, err := auth.NewExpiringRegistry(base, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, reg.TTL())
}

func TestExpiringRegistry(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, ttl time.Duration) (*auth.ExpiringRegistry, *fakeClock, *recordingObserver) {
		t.Helper()
		clock := newFakeClock()
		observer := &recordingObserver{}
		base, err := auth.NewRegistry(memory.NewSessionStore(), auth.WithClock(clock.Now))
		require.NoError(t, err)
		reg, err := auth.NewExpiringRegistry(base, ttl, auth.WithClock(clock.Now), auth.WithObserver(observer))
		require.NoError(t, err)
		return reg, clock, observer
	}

	t.Run("resolves within duration", func(t *testing.T) {
		reg, clock, _ := setup(t, time.Minute)
		userID := ulid.Make()
		token, err := reg.CreateSession(ctx, userID)
		require.NoError(t, err)

		clock.Advance(time.Minute)
		session, err := reg.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, session.UserID)
	})

	t.Run("expired session is revoked", func(t *testing.T) {
		reg, clock, observer := setup(t, time.Minute)
		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		clock.Advance(time.Minute + time.Second)
		_, err = reg.Resolve(ctx, token)
		errutil.AssertErrorIs(t, err, auth.ErrSessionExpired, "SESSION_EXPIRED")
		assert.Equal(t, []string{auth.EndReasonExpired}, observer.endings)

		// A second lookup finds nothing: the entry was deleted.
		_, err = reg.Resolve(ctx, token)
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.False(t, reg.Destroy(ctx, token))
	})

	t.Run("zero duration never expires", func(t *testing.T) {
		reg, clock, _ := setup(t, 0)
		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		clock.Advance(365 * 24 * time.Hour)
		_, err = reg.Resolve(ctx, token)
		require.NoError(t, err)
	})

	t.Run("destroy delegates", func(t *testing.T) {
		reg, _, _ := setup(t, time.Minute)
		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		assert.True(t, reg.Destroy(ctx, token))
		assert.False(t, reg.Destroy(ctx, token))
	})
}

func TestDurableRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("constructor validation", func(t *testing.T) {
		base, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)

		_, err = auth.NewDurableRegistry(nil, memory.NewSessionStore())
		errutil.AssertErrorCode(t, err, "REGISTRY_INVALID_INNER")
		_, err = auth.NewDurableRegistry(base, nil)
		errutil.AssertErrorCode(t, err, "REGISTRY_INVALID_STORE")
	})

	t.Run("sessions survive losing the base registry", func(t *testing.T) {
		durable := memory.NewSessionStore()
		base, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)
		reg, err := auth.NewDurableRegistry(base, durable)
		require.NoError(t, err)

		userID := ulid.Make()
		token, err := reg.CreateSession(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 1, durable.Len())

		// Simulate a restart: fresh base over the same durable store.
		restarted, err := auth.NewRegistry(memory.NewSessionStore())
		require.NoError(t, err)
		reg, err = auth.NewDurableRegistry(restarted, durable)
		require.NoError(t, err)

		session, err := reg.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, session.UserID)

		assert.True(t, reg.Destroy(ctx, token))
		assert.Equal(t, 0, durable.Len())
		assert.False(t, reg.Destroy(ctx, token))
	})

	t.Run("base keeps no copy of persisted sessions", func(t *testing.T) {
		baseStore := memory.NewSessionStore()
		durable := memory.NewSessionStore()
		base, err := auth.NewRegistry(baseStore)
		require.NoError(t, err)
		reg, err := auth.NewDurableRegistry(base, durable)
		require.NoError(t, err)

		tokens := make([]string, 0, 5)
		for range 5 {
			token, err := reg.CreateSession(ctx, ulid.Make())
			require.NoError(t, err)
			tokens = append(tokens, token)
		}
		assert.Equal(t, 0, baseStore.Len())
		assert.Equal(t, 5, durable.Len())

		// Eviction by the durable backend leaves nothing behind.
		for _, token := range tokens {
			_, err = durable.Remove(ctx, auth.HashToken(token))
			require.NoError(t, err)
			_, err = reg.Resolve(ctx, token)
			require.ErrorIs(t, err, auth.ErrNotFound)
		}
		assert.Equal(t, 0, baseStore.Len())
	})

	t.Run("hash already live in the durable store is regenerated", func(t *testing.T) {
		baseStore := memory.NewSessionStore()
		base, err := auth.NewRegistry(baseStore)
		require.NoError(t, err)
		durable := mocks.NewMockSessionStore(t)
		durable.On("Save", ctx, mock.AnythingOfType("*auth.Session")).Return(auth.ErrDuplicateSession).Once()
		durable.On("Save", ctx, mock.AnythingOfType("*auth.Session")).Return(nil).Once()

		reg, err := auth.NewDurableRegistry(base, durable)
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, 0, baseStore.Len())
	})

	t.Run("persist failure rolls back base", func(t *testing.T) {
		baseStore := memory.NewSessionStore()
		base, err := auth.NewRegistry(baseStore)
		require.NoError(t, err)
		durable := mocks.NewMockSessionStore(t)
		durable.On("Save", ctx, mock.AnythingOfType("*auth.Session")).Return(auth.ErrStorage)

		reg, err := auth.NewDurableRegistry(base, durable)
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.Make())
		errutil.AssertErrorIs(t, err, auth.ErrStorage, "SESSION_PERSIST_FAILED")
		assert.Empty(t, token)
		assert.Equal(t, 0, baseStore.Len())
	})

	t.Run("expiry over durable store", func(t *testing.T) {
		clock := newFakeClock()
		durable := memory.NewSessionStore()
		base, err := auth.NewRegistry(memory.NewSessionStore(), auth.WithClock(clock.Now))
		require.NoError(t, err)
		persisted, err := auth.NewDurableRegistry(base, durable)
		require.NoError(t, err)
		reg, err := auth.NewExpiringRegistry(persisted, time.Minute, auth.WithClock(clock.Now))
		require.NoError(t, err)

		token, err := reg.CreateSession(ctx, ulid.Make())
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		_, err = reg.Resolve(ctx, token)
		require.ErrorIs(t, err, auth.ErrSessionExpired)
		assert.Equal(t, 0, durable.Len())
	})
}
