// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/gate"
)

// Metrics contains the sessionauth Prometheus collectors. It receives events
// from the auth service and the request gate.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	GateDecisions   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the sessionauth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_login_attempts_total",
				Help: "Total number of password checks by result",
			},
			[]string{"result"},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionauth_sessions_created_total",
				Help: "Total number of sessions issued",
			},
		),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_sessions_ended_total",
				Help: "Total number of sessions ended by reason",
			},
			[]string{"reason"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_gate_decisions_total",
				Help: "Total number of request authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionauth_http_requests_total",
				Help: "Total number of HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionauth_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.LoginAttempts, m.SessionsCreated, m.SessionsEnded,
		m.GateDecisions, m.HTTPRequests, m.HTTPDuration)

	return m
}

// LoginAttempt implements auth.Observer.
func (m *Metrics) LoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// SessionCreated implements auth.Observer.
func (m *Metrics) SessionCreated() {
	m.SessionsCreated.Inc()
}

// SessionEnded implements auth.Observer.
func (m *Metrics) SessionEnded(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// Decided implements gate.Observer.
func (m *Metrics) Decided(outcome gate.Outcome) {
	m.GateDecisions.WithLabelValues(outcome.String()).Inc()
}

// InstrumentHandler counts and times requests served by next.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.HTTPDuration,
		promhttp.InstrumentHandlerCounter(m.HTTPRequests, next))
}

// Compile-time interface checks.
var (
	_ auth.Observer = (*Metrics)(nil)
	_ gate.Observer = (*Metrics)(nil)
)
