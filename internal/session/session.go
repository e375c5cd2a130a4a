// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session wraps scs with the per-visitor values the consent
// endpoints and the admin area rely on.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
)

// Session keys.
const (
	KeyConsentToken = "consent_token"
	KeyVisitorID    = "visitor_id"
	KeyAdminUser    = "admin_user"
	KeyFlash        = "flash"
	KeyFlashType    = "flash_type"
)

// Cookie names.
const (
	CookieName       = "gtmc_session"
	SecureCookieName = "__Host-gtmc_session"
)

// New creates a new session manager configured with SQLite store.
func New(db *sql.DB, isDev bool) *scs.SessionManager {
	sm := scs.New()
	sm.Store = sqlite3store.New(db)

	sm.Lifetime = 24 * time.Hour
	sm.Cookie.Name = CookieName
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = !isDev

	// __Host- requires Secure, Path=/ and no Domain.
	if !isDev {
		sm.Cookie.Name = SecureCookieName
	}

	return sm
}

// Manager exposes typed accessors over a session manager.
type Manager struct {
	*scs.SessionManager
}

// Wrap returns a Manager for sm.
func Wrap(sm *scs.SessionManager) *Manager {
	return &Manager{SessionManager: sm}
}

// ConsentToken returns the visitor's consent token, creating one on first use.
func (m *Manager) ConsentToken(ctx context.Context) (string, error) {
	if tok := m.GetString(ctx, KeyConsentToken); tok != "" {
		return tok, nil
	}
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	m.Put(ctx, KeyConsentToken, tok)
	return tok, nil
}

// ValidConsentToken reports whether token matches the one issued to this session.
func (m *Manager) ValidConsentToken(ctx context.Context, token string) bool {
	want := m.GetString(ctx, KeyConsentToken)
	if want == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// VisitorID returns a stable identifier for the visitor's session, used
// to suppress duplicate consent rows.
func (m *Manager) VisitorID(ctx context.Context) string {
	if id := m.GetString(ctx, KeyVisitorID); id != "" {
		return id
	}
	id := uuid.NewString()
	m.Put(ctx, KeyVisitorID, id)
	return id
}

// SetFlash stores a one-shot message for the next rendered page.
func (m *Manager) SetFlash(ctx context.Context, message, flashType string) {
	m.Put(ctx, KeyFlash, message)
	m.Put(ctx, KeyFlashType, flashType)
}

// PopFlash returns and clears the pending flash message.
func (m *Manager) PopFlash(ctx context.Context) (message, flashType string) {
	message = m.PopString(ctx, KeyFlash)
	if message == "" {
		return "", ""
	}
	return message, m.PopString(ctx, KeyFlashType)
}

// AdminUser returns the logged-in administrator, or "".
func (m *Manager) AdminUser(ctx context.Context) string {
	return m.GetString(ctx, KeyAdminUser)
}

// Login renews the session token and records the administrator.
func (m *Manager) Login(ctx context.Context, user string) error {
	if err := m.RenewToken(ctx); err != nil {
		return err
	}
	m.Put(ctx, KeyAdminUser, user)
	return nil
}

// Logout drops the administrator from the session.
func (m *Manager) Logout(ctx context.Context) error {
	m.Remove(ctx, KeyAdminUser)
	return m.RenewToken(ctx)
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
