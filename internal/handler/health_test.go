// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/testutil"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(testutil.TestMemoryDB(t), nil, nil, "test")
		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assertStatus(t, w.Code, http.StatusOK)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		db := testutil.TestMemoryDB(t)
		require.NoError(t, db.Close())

		h := NewHealthHandler(db, nil, nil, "test")
		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assertStatus(t, w.Code, http.StatusServiceUnavailable)
		assert.JSONEq(t, `{"status":"unavailable"}`, w.Body.String())
	})

	t.Run("cache down is degraded", func(t *testing.T) {
		h := NewHealthHandler(testutil.TestMemoryDB(t), stubPinger{err: errors.New("connection refused")}, nil, "test")
		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assertStatus(t, w.Code, http.StatusOK)
		assert.JSONEq(t, `{"status":"degraded"}`, w.Body.String())
	})

	t.Run("admin sees checks", func(t *testing.T) {
		sm := testSessionManager()
		ctx := loadSession(t, sm)
		require.NoError(t, sm.Login(ctx, "admin"))

		h := NewHealthHandler(testutil.TestMemoryDB(t), stubPinger{}, sm, "1.2.3")
		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx))

		assertStatus(t, w.Code, http.StatusOK)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, "1.2.3", status.Version)
		assert.Equal(t, statusHealthy, status.Checks["database"].Status)
		assert.Equal(t, statusHealthy, status.Checks["cache"].Status)
	})

	t.Run("session not loaded", func(t *testing.T) {
		h := NewHealthHandler(testutil.TestMemoryDB(t), nil, testSessionManager(), "test")
		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assertStatus(t, w.Code, http.StatusOK)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
}
