// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/olegiv/gtm-consent/internal/auth"
	"github.com/olegiv/gtm-consent/internal/middleware"
	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/util"
)

// AuthHandler handles the administrator login.
type AuthHandler struct {
	admin    *auth.Admin
	renderer *render.Renderer
	sessions *session.Manager
	guard    *middleware.LoginGuard
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. guard may be nil.
func NewAuthHandler(admin *auth.Admin, renderer *render.Renderer, sm *session.Manager, guard *middleware.LoginGuard, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		admin:    admin,
		renderer: renderer,
		sessions: sm,
		guard:    guard,
		logger:   logger,
	}
}

// LoginFormData holds data for the login template.
type LoginFormData struct {
	Enabled bool
}

// LoginForm renders the login page. Signed-in administrators go to the dashboard.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.sessions.AdminUser(r.Context()) != "" {
		http.Redirect(w, r, redirectAdmin, http.StatusSeeOther)
		return
	}
	renderPage(w, r, h.renderer, h.logger, "auth/login", render.TemplateData{
		Title: "Sign in",
		Data:  LoginFormData{Enabled: h.admin.Enabled()},
	})
}

// Login handles the login form submission.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectLogin) {
		return
	}

	user := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if user == "" || password == "" {
		flashError(w, r, h.renderer, redirectLogin, "Username and password are required")
		return
	}

	clientIP := util.ClientIP(r)

	if h.guard != nil {
		if locked, remaining := h.guard.Locked(user); locked {
			h.logger.Warn("login attempt on locked account", "user", user, "ip", clientIP)
			flashError(w, r, h.renderer, redirectLogin,
				fmt.Sprintf("Account is locked. Try again in %s.", formatDuration(remaining)))
			return
		}
	}

	if err := h.admin.Authenticate(user, password); err != nil {
		h.loginFailed(w, r, user, clientIP, err)
		return
	}

	if h.guard != nil {
		h.guard.Succeed(user)
	}

	if err := h.sessions.Login(r.Context(), user); err != nil {
		logAndInternalError(w, h.logger, "session renewal error", "error", err)
		return
	}

	h.logger.Info("admin logged in", "user", user, "ip", clientIP)
	flashSuccess(w, r, h.renderer, redirectAdmin, "Welcome back")
}

func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, user, clientIP string, err error) {
	switch {
	case errors.Is(err, auth.ErrAdminDisabled):
		flashError(w, r, h.renderer, redirectLogin, "Admin login is not configured")
		return
	case errors.Is(err, auth.ErrBadCredentials):
		h.logger.Warn("login failed: invalid credentials", "user", user, "ip", clientIP)
	default:
		h.logger.Error("password check error", "error", err)
	}

	if h.guard != nil {
		if locked, d := h.guard.Fail(user); locked {
			flashError(w, r, h.renderer, redirectLogin,
				fmt.Sprintf("Too many failed attempts. Try again in %s.", formatDuration(d)))
			return
		}
		if remaining := h.guard.Remaining(user); remaining > 0 && remaining <= 3 {
			flashError(w, r, h.renderer, redirectLogin,
				fmt.Sprintf("Invalid credentials. %d attempts remaining.", remaining))
			return
		}
	}
	flashError(w, r, h.renderer, redirectLogin, "Invalid credentials")
}

// Logout signs the administrator out.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := h.sessions.AdminUser(r.Context())
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.Error("session renewal error on logout", "error", err)
	}
	if user != "" {
		h.logger.Info("admin logged out", "user", user)
	}
	flashAndRedirect(w, r, h.renderer, redirectLogin, "You have been signed out", "info")
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	hours := int(d.Hours())
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
