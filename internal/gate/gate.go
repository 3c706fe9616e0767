// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/sessionauth/internal/auth"
)

// DefaultProtectedPrefix is the path prefix guarded when none is configured.
const DefaultProtectedPrefix = "/api/v1/"

// DefaultCookieName is the session cookie read when none is configured.
const DefaultCookieName = "_my_session_id"

const tracerName = "github.com/holomush/sessionauth/internal/gate"

// Outcome is the terminal state of a per-request decision.
type Outcome int

// Decision outcomes.
const (
	NoAuthRequired Outcome = iota
	Authenticated
	Unauthenticated
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case NoAuthRequired:
		return "no_auth_required"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Passes reports whether the request may reach the handler.
func (o Outcome) Passes() bool {
	return o == NoAuthRequired || o == Authenticated
}

// Decision is the result of Gate.Decide. User is set only when Authenticated.
type Decision struct {
	Outcome Outcome
	User    *auth.User
}

// Observer receives every decision.
type Observer interface {
	Decided(outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) Decided(Outcome) {}

// Config holds request gating settings.
type Config struct {
	Scheme          Scheme
	ProtectedPrefix string
	ExcludedPaths   []string
	CookieName      string
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver reports decisions to observer.
func WithObserver(observer Observer) Option {
	return func(g *Gate) {
		if observer != nil {
			g.observer = observer
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate applies the authorization state machine to HTTP requests.
type Gate struct {
	scheme     Scheme
	prefix     string
	excluded   *exclusions
	cookieName string
	authn      Authenticator
	observer   Observer
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New creates a Gate. authn may be nil only when the scheme is none.
func New(cfg Config, authn Authenticator, opts ...Option) (*Gate, error) {
	scheme, err := ParseScheme(string(cfg.Scheme))
	if err != nil {
		return nil, err
	}
	if authn == nil {
		if scheme != SchemeNone {
			return nil, oops.Code("GATE_INVALID_DEPS").
				With("scheme", string(scheme)).
				Errorf("authenticator is required")
		}
		authn = Anonymous{}
	}

	g := &Gate{
		scheme:     scheme,
		prefix:     cfg.ProtectedPrefix,
		excluded:   compileExclusions(cfg.ExcludedPaths),
		cookieName: cfg.CookieName,
		authn:      authn,
		observer:   nopObserver{},
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	if g.prefix == "" {
		g.prefix = DefaultProtectedPrefix
	}
	if g.cookieName == "" {
		g.cookieName = DefaultCookieName
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Scheme returns the configured scheme.
func (g *Gate) Scheme() Scheme {
	return g.scheme
}

// CookieName returns the session cookie name.
func (g *Gate) CookieName() string {
	return g.cookieName
}

// RequireAuth reports whether path needs authentication under the gate's
// exclusions.
func (g *Gate) RequireAuth(path string) bool {
	return !g.excluded.match(path)
}

// AuthorizationHeader returns the raw Authorization header or "".
func (g *Gate) AuthorizationHeader(r *http.Request) string {
	return r.Header.Get("Authorization")
}

// SessionCookie returns the raw session cookie value or "".
func (g *Gate) SessionCookie(r *http.Request) string {
	c, err := r.Cookie(g.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (g *Gate) credentials(r *http.Request) Credentials {
	return Credentials{
		Authorization: g.AuthorizationHeader(r),
		SessionToken:  g.SessionCookie(r),
	}
}

// CurrentUser resolves the request's credentials to a user.
func (g *Gate) CurrentUser(r *http.Request) (*auth.User, bool) {
	return g.authn.Authenticate(r.Context(), g.credentials(r))
}

// Decide runs the authorization state machine for r.
func (g *Gate) Decide(r *http.Request) Decision {
	ctx, span := g.tracer.Start(r.Context(), "gate.Decide",
		trace.WithAttributes(attribute.String("auth.scheme", string(g.scheme))))
	defer span.End()

	d := g.decide(ctx, r)
	span.SetAttributes(attribute.String("auth.outcome", d.Outcome.String()))
	g.observer.Decided(d.Outcome)
	return d
}

func (g *Gate) decide(ctx context.Context, r *http.Request) Decision {
	if g.scheme == SchemeNone {
		return Decision{Outcome: NoAuthRequired}
	}
	if !strings.HasPrefix(withSlash(r.URL.Path), g.prefix) {
		return Decision{Outcome: NoAuthRequired}
	}
	if !g.RequireAuth(r.URL.Path) {
		return Decision{Outcome: NoAuthRequired}
	}

	creds := g.credentials(r)
	if creds.Empty() {
		return Decision{Outcome: Unauthenticated}
	}

	user, ok := g.authn.Authenticate(ctx, creds)
	if !ok {
		g.logger.DebugContext(ctx, "credential rejected", "path", r.URL.Path)
		return Decision{Outcome: Forbidden}
	}
	return Decision{Outcome: Authenticated, User: user}
}

// Middleware rejects requests the gate does not pass and binds the
// authenticated user to the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Decide(r)
		switch d.Outcome {
		case Unauthenticated:
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		case Forbidden:
			writeError(w, http.StatusForbidden, "Forbidden")
		case Authenticated:
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), d.User)))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
