// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Reasons reported to Observer.SessionEnded.
const (
	EndReasonLogout   = "logout"
	EndReasonReplaced = "replaced"
	EndReasonExpired  = "expired"
)

// Observer receives authentication events, typically to update metrics.
type Observer interface {
	LoginAttempt(success bool)
	SessionCreated()
	SessionEnded(reason string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) LoginAttempt(bool)   {}
func (NopObserver) SessionCreated()     {}
func (NopObserver) SessionEnded(string) {}
