// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the authentication service over HTTP.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/gate"
)

// Instrumenter wraps a handler with request metrics.
type Instrumenter interface {
	InstrumentHandler(next http.Handler) http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCookieTTL sets the session cookie Max-Age. Zero issues session cookies.
func WithCookieTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		h.cookieTTL = ttl
	}
}

// WithInstrumenter records request metrics.
func WithInstrumenter(i Instrumenter) Option {
	return func(h *Handler) {
		h.instrumenter = i
	}
}

// Handler serves the authentication routes.
type Handler struct {
	svc          *auth.Service
	gate         *gate.Gate
	logger       *slog.Logger
	cookieTTL    time.Duration
	instrumenter Instrumenter
	root         http.Handler
}

// NewHandler wires the routes behind the gate.
func NewHandler(svc *auth.Service, g *gate.Gate, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("auth service is required")
	}
	if g == nil {
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("gate is required")
	}

	h := &Handler{svc: svc, gate: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("POST /users", h.registerUser)
	mux.HandleFunc("POST /sessions", h.login)
	mux.HandleFunc("DELETE /sessions", h.logout)
	mux.HandleFunc("GET /profile", h.profile)
	mux.HandleFunc("POST /reset_password", h.issueResetToken)
	mux.HandleFunc("PUT /reset_password", h.updatePassword)

	mux.HandleFunc("GET /api/v1/status", h.status)
	mux.HandleFunc("GET /api/v1/unauthorized", h.unauthorized)
	mux.HandleFunc("GET /api/v1/forbidden", h.forbidden)
	mux.HandleFunc("GET /api/v1/users/me", h.currentUser)
	mux.HandleFunc("POST /api/v1/auth_session/login", h.apiLogin)
	mux.HandleFunc("DELETE /api/v1/auth_session/logout", h.apiLogout)

	mux.HandleFunc("/", h.notFound)

	var root http.Handler = g.Middleware(mux)
	root = withAccessLog(h.logger, root)
	root = withTracing(root)
	if h.instrumenter != nil {
		root = h.instrumenter.InstrumentHandler(root)
	}
	h.root = withRequestID(root)
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     h.gate.CookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cookieTTL > 0 {
		c.MaxAge = int(h.cookieTTL / time.Second)
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.gate.CookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
