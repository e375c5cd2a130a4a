// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
	"github.com/olegiv/gtm-consent/internal/testutil"
)

func seedLogs(t *testing.T, db *sql.DB, status string, n int, source string) {
	t.Helper()
	q := store.New(db)
	for i := 0; i < n; i++ {
		_, err := q.InsertConsentLog(context.Background(), store.InsertConsentLogParams{
			IPAddress:     fmt.Sprintf("203.0.113.%d", i+1),
			UserAgent:     "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			ConsentStatus: status,
			Country:       "Germany",
			UtmSource:     source,
		})
		require.NoError(t, err)
	}
}

func newAdminHandler(t *testing.T) (*AdminHandler, *sql.DB, context.Context) {
	t.Helper()
	db := testutil.TestMemoryDB(t)
	logger := testutil.TestLoggerSilent()
	sm := testSessionManager()

	sp := settings.NewProvider(db, logger)
	_, err := sp.Load(context.Background())
	require.NoError(t, err)
	s := sp.Current()
	s.GTMID = "GTM-ABC1234"
	require.NoError(t, sp.Save(context.Background(), s))

	return NewAdminHandler(db, testRenderer(t, sm), sp, nil, logger), db, loadSession(t, sm)
}

func TestAdminDashboard(t *testing.T) {
	h, db, ctx := newAdminHandler(t)
	seedLogs(t, db, "accepted", 3, "")
	seedLogs(t, db, "declined", 2, "")
	seedLogs(t, db, "no_action", 1, "")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.Dashboard(w, req)

	assertStatus(t, w.Code, http.StatusOK)
	body := w.Body.String()
	for _, want := range []string{
		`<span class="stat-value">3</span>`,
		`<span class="stat-value">2</span>`,
		`<span class="stat-value">1</span>`,
		`<span class="stat-value">6</span>`,
		"GTM-ABC1234",
	} {
		assert.Contains(t, body, want)
	}
}

func TestAdminStats(t *testing.T) {
	h, db, ctx := newAdminHandler(t)
	seedLogs(t, db, "accepted", 3, "")
	seedLogs(t, db, "declined", 2, "")
	seedLogs(t, db, "no_action", 1, "")

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.Stats(w, req)

	assertStatus(t, w.Code, http.StatusOK)
	var resp struct {
		Success bool                    `json:"success"`
		Data    store.ConsentStatistics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, store.ConsentStatistics{Accepted: 3, Declined: 2, NoAction: 1, TotalVisitors: 6}, resp.Data)
}

func TestAdminLogs(t *testing.T) {
	t.Run("pagination", func(t *testing.T) {
		h, db, ctx := newAdminHandler(t)
		seedLogs(t, db, "accepted", 25, "")

		req := httptest.NewRequest(http.MethodGet, "/admin/logs?page=2", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		h.Logs(w, req)

		assertStatus(t, w.Code, http.StatusOK)
		body := w.Body.String()
		assert.Contains(t, body, "21-25 of 25")
		assert.Equal(t, 5, strings.Count(body, `class="status-badge"`))
		assert.Contains(t, body, "background-color: #46b450")
		assert.Contains(t, body, "Firefox on Linux")
	})

	t.Run("search", func(t *testing.T) {
		h, db, ctx := newAdminHandler(t)
		seedLogs(t, db, "accepted", 3, "google")
		seedLogs(t, db, "declined", 2, "newsletter")

		req := httptest.NewRequest(http.MethodGet, "/admin/logs?s=newsletter", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		h.Logs(w, req)

		assertStatus(t, w.Code, http.StatusOK)
		body := w.Body.String()
		assert.Equal(t, 2, strings.Count(body, `class="status-badge"`))
		assert.Contains(t, body, "Declined")
		assert.NotContains(t, body, "<td>google</td>")
	})

	t.Run("empty", func(t *testing.T) {
		h, _, ctx := newAdminHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/admin/logs?orderby=bogus&order=sideways", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		h.Logs(w, req)

		assertStatus(t, w.Code, http.StatusOK)
		assert.Contains(t, w.Body.String(), "No consent logs found.")
	})
}

func TestSortLinks(t *testing.T) {
	links := sortLinks("news", "created_at", "desc")
	require.Len(t, links, 3)

	date := links[0]
	assert.True(t, date.Active)
	assert.Equal(t, "/admin/logs?order=asc&orderby=created_at&s=news", date.URL)

	status := links[1]
	assert.False(t, status.Active)
	assert.Equal(t, "/admin/logs?order=desc&orderby=consent_status&s=news", status.URL)
}
