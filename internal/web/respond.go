// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/holomush/sessionauth/internal/auth"
)

// userJSON is the public view of a user. Hashes and tokens never leave the
// server.
type userJSON struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func publicUser(u *auth.User) userJSON {
	return userJSON{
		ID:        u.ID.String(),
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// formValues returns the named form fields, or false if any is missing or empty.
func formValues(r *http.Request, names ...string) ([]string, bool) {
	if err := r.ParseForm(); err != nil {
		return nil, false
	}
	out := make([]string, len(names))
	for i, name := range names {
		v := r.PostForm.Get(name)
		if v == "" {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
