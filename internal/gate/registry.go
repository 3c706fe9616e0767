// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"time"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// NewSessionRegistry composes the session registry a scheme calls for.
// Every scheme starts from a Registry over memory; session_exp adds expiry,
// session_db also makes durable the authority for lookups. durable is only
// read for session_db.
func NewSessionRegistry(scheme Scheme, memory auth.SessionStore, durable auth.SessionStore,
	ttl time.Duration, opts ...auth.RegistryOption,
) (auth.SessionRegistry, error) {
	base, err := auth.NewRegistry(memory, opts...)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case SchemeNone, SchemeBasic, SchemeSession:
		return base, nil
	case SchemeSessionExp:
		return auth.NewExpiringRegistry(base, ttl, opts...)
	case SchemeSessionDB:
		if durable == nil {
			return nil, oops.Code("GATE_INVALID_DEPS").
				With("scheme", string(scheme)).
				Errorf("durable session store is required")
		}
		persisted, err := auth.NewDurableRegistry(base, durable, opts...)
		if err != nil {
			return nil, err
		}
		return auth.NewExpiringRegistry(persisted, ttl, opts...)
	default:
		return nil, oops.Code("GATE_UNKNOWN_SCHEME").With("scheme", string(scheme)).Errorf("unknown auth scheme %q", scheme)
	}
}
