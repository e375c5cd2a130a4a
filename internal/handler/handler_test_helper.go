// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"

	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/store"
	"github.com/olegiv/gtm-consent/web"
)

// testSessionManager returns a session manager backed by the in-memory store.
func testSessionManager() *session.Manager {
	return session.Wrap(scs.New())
}

// loadSession returns a context carrying a fresh session.
func loadSession(t *testing.T, sm *session.Manager) context.Context {
	t.Helper()
	ctx, err := sm.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return ctx
}

// postForm builds a form-encoded POST request bound to ctx.
func postForm(ctx context.Context, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req.WithContext(ctx)
}

// testRenderer parses the embedded templates.
func testRenderer(t *testing.T, sm *session.Manager) *render.Renderer {
	t.Helper()
	r, err := render.New(render.Config{TemplatesFS: web.TemplatesFS(), Sessions: sm})
	if err != nil {
		t.Fatalf("failed to parse templates: %v", err)
	}
	return r
}

func countLogs(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	n, err := store.New(db).CountConsentLogs(context.Background(), "")
	if err != nil {
		t.Fatalf("CountConsentLogs: %v", err)
	}
	return n
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status = %d; want %d", got, want)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
