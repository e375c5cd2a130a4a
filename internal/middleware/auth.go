// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for authentication,
// rate limiting, and response hardening.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/olegiv/gtm-consent/internal/session"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// ContextKeyAdmin holds the signed-in administrator name.
const ContextKeyAdmin ContextKey = "admin"

// LoginPath is where unauthenticated admin requests are sent.
const LoginPath = "/login"

// RequireAdmin rejects requests without an administrator session. Page
// requests are redirected to the login form, JSON endpoints get a 401.
func RequireAdmin(sm *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sm.AdminUser(r.Context())
			if user == "" {
				if wantsJSON(r) {
					writeEnvelopeError(w, http.StatusUnauthorized, "Authentication required")
					return
				}
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAdmin, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminUser returns the administrator stored by RequireAdmin, or "".
func AdminUser(r *http.Request) string {
	user, _ := r.Context().Value(ContextKeyAdmin).(string)
	return user
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
