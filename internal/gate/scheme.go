// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate decides, per HTTP request, whether authentication is required
// and who the caller is.
package gate

import (
	"strings"

	"github.com/samber/oops"
)

// Scheme selects the authentication strategy.
type Scheme string

// Supported schemes.
const (
	SchemeNone       Scheme = "none"
	SchemeBasic      Scheme = "basic"
	SchemeSession    Scheme = "session"
	SchemeSessionExp Scheme = "session_exp"
	SchemeSessionDB  Scheme = "session_db"
)

// Schemes lists every accepted scheme in configuration order.
var Schemes = []Scheme{SchemeNone, SchemeBasic, SchemeSession, SchemeSessionExp, SchemeSessionDB}

// ParseScheme resolves a configuration value. The empty string means none.
func ParseScheme(s string) (Scheme, error) {
	v := Scheme(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return SchemeNone, nil
	}
	for _, known := range Schemes {
		if v == known {
			return v, nil
		}
	}
	return "", oops.Code("GATE_UNKNOWN_SCHEME").With("scheme", s).Errorf("unknown auth scheme %q", s)
}

// UsesSessions reports whether the scheme authenticates with a session cookie.
func (s Scheme) UsesSessions() bool {
	return s == SchemeSession || s == SchemeSessionExp || s == SchemeSessionDB
}

// Expires reports whether sessions issued under the scheme honour a duration.
func (s Scheme) Expires() bool {
	return s == SchemeSessionExp || s == SchemeSessionDB
}

func (s Scheme) String() string {
	return string(s)
}
