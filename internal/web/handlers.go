// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/pkg/errutil"
)

func (h *Handler) internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	errutil.LogErrorContext(ctx, h.logger, msg, err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "Bienvenue")
}

func (h *Handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	vals, ok := formValues(r, "email", "password")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "email and password required")
		return
	}

	user, err := h.svc.RegisterUser(r.Context(), vals[0], vals[1])
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeMessage(w, http.StatusBadRequest, "email already registered")
			return
		}
		h.internalError(r.Context(), w, "register user failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email, "message": "user created"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	vals, ok := formValues(r, "email", "password")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "email or password missing")
		return
	}
	email, password := vals[0], vals[1]

	if !h.svc.ValidLogin(r.Context(), email, password) {
		writeMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.svc.CreateSession(r.Context(), email)
	if err != nil {
		h.internalError(r.Context(), w, "create session failed", err)
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "logged in"})
}

// sessionUser resolves the request's session cookie. It writes 401 when the
// cookie is absent and 403 when it names no live session.
func (h *Handler) sessionUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	token := h.gate.SessionCookie(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	user, err := h.svc.UserForSession(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrSessionExpired) {
			errutil.LogErrorContext(r.Context(), h.logger, "session lookup failed", err)
		}
		writeError(w, http.StatusForbidden, "Forbidden")
		return nil, false
	}
	return user, true
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.DestroySession(r.Context(), user.ID); err != nil {
		h.internalError(r.Context(), w, "destroy session failed", err)
		return
	}

	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
}

func (h *Handler) issueResetToken(w http.ResponseWriter, r *http.Request) {
	vals, ok := formValues(r, "email")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "email missing")
		return
	}
	email := vals[0]

	token, err := h.svc.IssueResetToken(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownEmail) {
			writeMessage(w, http.StatusForbidden, "email not registered")
			return
		}
		h.internalError(r.Context(), w, "issue reset token failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": email, "reset_token": token})
}

func (h *Handler) updatePassword(w http.ResponseWriter, r *http.Request) {
	vals, ok := formValues(r, "email", "reset_token", "new_password")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "email, reset_token and new_password required")
		return
	}
	email, token, password := vals[0], vals[1], vals[2]

	if err := h.svc.ConsumeResetToken(r.Context(), token, password); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		h.internalError(r.Context(), w, "update password failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "Password updated"})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *Handler) unauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

func (h *Handler) forbidden(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, "Forbidden")
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, publicUser(user))
}

func (h *Handler) apiLogin(w http.ResponseWriter, r *http.Request) {
	vals, ok := formValues(r, "email", "password")
	if !ok {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	email, password := vals[0], vals[1]

	user, err := h.svc.UserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no user found for this email")
			return
		}
		h.internalError(r.Context(), w, "user lookup failed", err)
		return
	}

	if !h.svc.ValidLogin(r.Context(), email, password) {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	token, err := h.svc.CreateSession(r.Context(), email)
	if err != nil {
		h.internalError(r.Context(), w, "create session failed", err)
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, publicUser(user))
}

func (h *Handler) apiLogout(w http.ResponseWriter, r *http.Request) {
	token := h.gate.SessionCookie(r)
	if token == "" || !h.svc.EndSession(r.Context(), token) {
		writeError(w, http.StatusNotFound, "not logged in")
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{})
}
