// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	pgstore "github.com/holomush/sessionauth/internal/auth/postgres"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/store"
	"github.com/holomush/sessionauth/internal/web"
)

const cookieName = "_my_session_id"

var excludedPaths = []string{
	"/api/v1/status/",
	"/api/v1/unauthorized/",
	"/api/v1/forbidden/",
	"/api/v1/auth_session/login/",
}

// testEnv holds the database and a running HTTP server.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httptest.Server
	offset    atomic.Int64
}

func (e *testEnv) clock() time.Time {
	return time.Now().UTC().Add(time.Duration(e.offset.Load()))
}

// setupTestEnv starts PostgreSQL, migrates it and serves the full stack
// under scheme with postgres-backed users and sessions.
func setupTestEnv(scheme gate.Scheme, ttl time.Duration) (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sessionauth_test"),
		postgres.WithUsername("sessionauth"),
		postgres.WithPassword("sessionauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.OpenPostgres(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := pgstore.NewCredentialStore(env.pool, logger)
	hasher := auth.NewArgon2idHasher()

	registry, err := gate.NewSessionRegistry(scheme, memory.NewSessionStore(),
		pgstore.NewSessionStore(env.pool, logger), ttl,
		auth.WithClock(env.clock), auth.WithLogger(logger))
	if err != nil {
		env.cleanup()
		return nil, err
	}
	svc, err := auth.NewService(users, registry, hasher, auth.WithServiceLogger(logger))
	if err != nil {
		env.cleanup()
		return nil, err
	}
	authn, err := gate.NewAuthenticator(scheme, gate.Dependencies{
		Users: users, Sessions: registry, Hasher: hasher, Logger: logger,
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	g, err := gate.New(gate.Config{
		Scheme:        scheme,
		ExcludedPaths: excludedPaths,
		CookieName:    cookieName,
	}, authn, gate.WithLogger(logger))
	if err != nil {
		env.cleanup()
		return nil, err
	}
	handler, err := web.NewHandler(svc, g, web.WithLogger(logger), web.WithCookieTTL(ttl))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.server = httptest.NewServer(handler)
	return env, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

func (e *testEnv) client() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) postForm(c *http.Client, path string, form url.Values) *http.Response {
	resp, err := c.PostForm(e.server.URL+path, form)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (e *testEnv) send(c *http.Client, method, path string, header http.Header) (*http.Response, string) {
	req, err := http.NewRequestWithContext(e.ctx, method, e.server.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.Do(req)
	Expect(err).NotTo(HaveOccurred())
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	_ = resp.Body.Close()
	return resp, string(body)
}

func (e *testEnv) sessionRows() int {
	var n int
	Expect(e.pool.QueryRow(e.ctx, "SELECT count(*) FROM user_sessions").Scan(&n)).To(Succeed())
	return n
}

var credentials = url.Values{"email": {"ada@example.com"}, "password": {"analytical"}}

var _ = Describe("Durable sessions on PostgreSQL", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv(gate.SchemeSessionDB, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(env.cleanup)
	})

	It("registers a user", func() {
		resp := env.postForm(env.client(), "/users", credentials)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects a duplicate registration", func() {
		resp := env.postForm(env.client(), "/users", credentials)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("guards the API until login", func() {
		c := env.client()

		resp, _ := env.send(c, http.MethodGet, "/api/v1/users/me", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		login := env.postForm(c, "/api/v1/auth_session/login", credentials)
		_ = login.Body.Close()
		Expect(login.StatusCode).To(Equal(http.StatusOK))
		Expect(env.sessionRows()).To(Equal(1))

		resp, body := env.send(c, http.MethodGet, "/api/v1/users/me", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("ada@example.com"))

		resp, _ = env.send(c, http.MethodDelete, "/api/v1/auth_session/logout", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(env.sessionRows()).To(Equal(0))

		resp, _ = env.send(c, http.MethodGet, "/api/v1/users/me", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("forbids an unknown session cookie", func() {
		header := http.Header{"Cookie": {cookieName + "=not-a-session"}}
		resp, body := env.send(http.DefaultClient, http.MethodGet, "/api/v1/users/me", header)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		Expect(body).To(MatchJSON(`{"error":"Forbidden"}`))
	})

	It("keeps a single session per user", func() {
		first := env.client()
		second := env.client()

		resp := env.postForm(first, "/api/v1/auth_session/login", credentials)
		_ = resp.Body.Close()
		resp = env.postForm(second, "/api/v1/auth_session/login", credentials)
		_ = resp.Body.Close()

		Expect(env.sessionRows()).To(Equal(1))

		r1, _ := env.send(first, http.MethodGet, "/api/v1/users/me", nil)
		Expect(r1.StatusCode).To(Equal(http.StatusForbidden))
		r2, _ := env.send(second, http.MethodGet, "/api/v1/users/me", nil)
		Expect(r2.StatusCode).To(Equal(http.StatusOK))
	})

	It("expires sessions lazily", func() {
		c := env.client()
		resp := env.postForm(c, "/api/v1/auth_session/login", credentials)
		_ = resp.Body.Close()

		env.offset.Store(int64(2 * time.Hour))
		DeferCleanup(func() { env.offset.Store(0) })

		r, _ := env.send(c, http.MethodGet, "/api/v1/users/me", nil)
		Expect(r.StatusCode).To(Equal(http.StatusForbidden))
		Expect(env.sessionRows()).To(Equal(0))
	})

	It("resets a password with a one-shot token", func() {
		resp := env.postForm(env.client(), "/reset_password", url.Values{"email": credentials["email"]})
		var issued struct {
			ResetToken string `json:"reset_token"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&issued)).To(Succeed())
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		token := issued.ResetToken
		Expect(token).NotTo(BeEmpty())

		update := url.Values{
			"email":        credentials["email"],
			"reset_token":  {token},
			"new_password": {"difference engine"},
		}
		req, err := http.NewRequestWithContext(env.ctx, http.MethodPut, env.server.URL+"/reset_password",
			strings.NewReader(update.Encode()))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		put, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		_ = put.Body.Close()
		Expect(put.StatusCode).To(Equal(http.StatusOK))

		login := env.postForm(env.client(), "/api/v1/auth_session/login",
			url.Values{"email": credentials["email"], "password": {"difference engine"}})
		_ = login.Body.Close()
		Expect(login.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Basic authentication on PostgreSQL", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv(gate.SchemeBasic, 0)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(env.cleanup)

		resp := env.postForm(env.client(), "/users", credentials)
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	basic := func(email, password string) http.Header {
		raw := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
		return http.Header{"Authorization": {"Basic " + raw}}
	}

	It("accepts valid credentials", func() {
		resp, body := env.send(http.DefaultClient, http.MethodGet, "/api/v1/users/me",
			basic("ada@example.com", "analytical"))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("ada@example.com"))
	})

	It("forbids a wrong password", func() {
		resp, _ := env.send(http.DefaultClient, http.MethodGet, "/api/v1/users/me",
			basic("ada@example.com", "wrong"))
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("leaves excluded paths open", func() {
		resp, body := env.send(http.DefaultClient, http.MethodGet, "/api/v1/status", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"status":"OK"}`))
	})
})
