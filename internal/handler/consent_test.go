// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
	"github.com/olegiv/gtm-consent/internal/testutil"
)

type consentFixture struct {
	db    *sql.DB
	sm    *session.Manager
	h     *ConsentHandler
	ctx   context.Context
	token string
}

func newConsentFixture(t *testing.T) *consentFixture {
	t.Helper()
	return newConsentFixtureWithConfig(t, consent.ServiceConfig{})
}

func newConsentFixtureWithConfig(t *testing.T, cfg consent.ServiceConfig) *consentFixture {
	t.Helper()
	db := testutil.TestMemoryDB(t)
	logger := testutil.TestLoggerSilent()
	sm := testSessionManager()

	sp := settings.NewProvider(db, logger)
	_, err := sp.Load(context.Background())
	require.NoError(t, err)

	svc := consent.NewService(store.New(db), nil, nil, logger, cfg)

	ctx := loadSession(t, sm)
	token, err := sm.ConsentToken(ctx)
	require.NoError(t, err)

	return &consentFixture{
		db:    db,
		sm:    sm,
		h:     NewConsentHandler(svc, sm, sp, nil, logger, true),
		ctx:   ctx,
		token: token,
	}
}

func (f *consentFixture) post(handler http.HandlerFunc, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := postForm(f.ctx, target, form)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeConsentResponse(t *testing.T, w *httptest.ResponseRecorder) consentResponse {
	t.Helper()
	var resp consentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestConsentGrant(t *testing.T) {
	f := newConsentFixture(t)

	w := f.post(f.h.Grant, "/consent/grant", url.Values{
		"nonce":      {f.token},
		"utm_source": {"newsletter"},
	})

	assertStatus(t, w.Code, http.StatusOK)
	resp := decodeConsentResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Consent granted successfully", resp.Data.Message)

	granted := findCookie(w.Result().Cookies(), consent.CookieGranted)
	require.NotNil(t, granted)
	assert.Equal(t, consent.CookieValue, granted.Value)
	assert.Equal(t, 90*24*60*60, granted.MaxAge)

	logs, err := store.New(f.db).ListConsentLogs(context.Background(), store.ListConsentLogsParams{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "accepted", logs[0].ConsentStatus)
	assert.Equal(t, "newsletter", logs[0].UtmSource)
}

func TestConsentAcceptAfterDecline(t *testing.T) {
	f := newConsentFixture(t)

	w := f.post(f.h.Decline, "/consent/decline", url.Values{"nonce": {f.token}})
	assertStatus(t, w.Code, http.StatusOK)
	assert.Equal(t, "Consent declined successfully", decodeConsentResponse(t, w).Data.Message)
	require.EqualValues(t, 1, countLogs(t, f.db))

	w = f.post(f.h.Grant, "/consent/grant", url.Values{"nonce": {f.token}},
		&http.Cookie{Name: consent.CookieDeclined, Value: consent.CookieValue})
	assertStatus(t, w.Code, http.StatusOK)
	assert.EqualValues(t, 2, countLogs(t, f.db))

	cookies := w.Result().Cookies()
	declined := findCookie(cookies, consent.CookieDeclined)
	require.NotNil(t, declined)
	assert.Less(t, declined.MaxAge, 0, "declined cookie should be expired")

	granted := findCookie(cookies, consent.CookieGranted)
	require.NotNil(t, granted)
	assert.Equal(t, consent.CookieValue, granted.Value)

	stats, err := store.New(f.db).GetConsentStatistics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Accepted)
	assert.EqualValues(t, 1, stats.Declined)
}

func TestConsentChangeOfMindWithDedupe(t *testing.T) {
	f := newConsentFixtureWithConfig(t, consent.ServiceConfig{DedupeWindow: time.Minute})
	form := url.Values{"nonce": {f.token}}

	f.post(f.h.Grant, "/consent/grant", form)
	f.post(f.h.Grant, "/consent/grant", form)
	require.EqualValues(t, 1, countLogs(t, f.db), "repeated accept is suppressed")

	f.post(f.h.Decline, "/consent/decline", form)
	w := f.post(f.h.Grant, "/consent/grant", form)
	assertStatus(t, w.Code, http.StatusOK)
	assert.EqualValues(t, 3, countLogs(t, f.db))

	logs, err := store.New(f.db).ListConsentLogs(context.Background(), store.ListConsentLogsParams{
		OrderBy: store.OrderByCreatedAt,
	})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "accepted", logs[0].ConsentStatus, "log ends on the latest decision")
	assert.NotNil(t, findCookie(w.Result().Cookies(), consent.CookieGranted))
}

func TestConsentNoAction(t *testing.T) {
	t.Run("without decision records one row", func(t *testing.T) {
		f := newConsentFixture(t)
		w := f.post(f.h.NoAction, "/consent/no-action", url.Values{"nonce": {f.token}})

		assertStatus(t, w.Code, http.StatusOK)
		assert.Equal(t, "Preference recorded", decodeConsentResponse(t, w).Data.Message)
		assert.EqualValues(t, 1, countLogs(t, f.db))
		assert.NotNil(t, findCookie(w.Result().Cookies(), consent.CookieNoAction))
	})

	t.Run("with decision cookie records nothing", func(t *testing.T) {
		for _, name := range []string{consent.CookieGranted, consent.CookieDeclined, consent.CookieNoAction} {
			f := newConsentFixture(t)
			w := f.post(f.h.NoAction, "/consent/no-action", url.Values{"nonce": {f.token}},
				&http.Cookie{Name: name, Value: consent.CookieValue})

			assertStatus(t, w.Code, http.StatusOK)
			assert.True(t, decodeConsentResponse(t, w).Success)
			assert.EqualValues(t, 0, countLogs(t, f.db), "cookie %s", name)
			assert.Empty(t, w.Result().Cookies(), "cookie %s", name)
		}
	})
}

func TestConsentInvalidToken(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing", url.Values{}},
		{"wrong", url.Values{"nonce": {"not-the-token"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConsentFixture(t)
			w := f.post(f.h.Grant, "/consent/grant", tt.form)

			assertStatus(t, w.Code, http.StatusForbidden)
			resp := decodeConsentResponse(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, "Invalid security token", resp.Data.Message)
			assert.EqualValues(t, 0, countLogs(t, f.db))
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestConsentTokenSources(t *testing.T) {
	t.Run("ajax nonce alias", func(t *testing.T) {
		f := newConsentFixture(t)
		w := f.post(f.h.Grant, "/consent/grant", url.Values{"_ajax_nonce": {f.token}})
		assertStatus(t, w.Code, http.StatusOK)
	})

	t.Run("header", func(t *testing.T) {
		f := newConsentFixture(t)
		req := postForm(f.ctx, "/consent/grant", url.Values{})
		req.Header.Set(HeaderConsentToken, f.token)
		w := httptest.NewRecorder()
		f.h.Grant(w, req)
		assertStatus(t, w.Code, http.StatusOK)
		assert.EqualValues(t, 1, countLogs(t, f.db))
	})

	t.Run("token from another session", func(t *testing.T) {
		f := newConsentFixture(t)
		other := loadSession(t, f.sm)
		otherToken, err := f.sm.ConsentToken(other)
		require.NoError(t, err)
		require.NotEqual(t, f.token, otherToken)

		w := f.post(f.h.Grant, "/consent/grant", url.Values{"nonce": {otherToken}})
		assertStatus(t, w.Code, http.StatusForbidden)
	})
}

func TestConsentStorageFailure(t *testing.T) {
	f := newConsentFixture(t)
	require.NoError(t, f.db.Close())

	w := f.post(f.h.Grant, "/consent/grant", url.Values{"nonce": {f.token}})

	assertStatus(t, w.Code, http.StatusInternalServerError)
	resp := decodeConsentResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unable to record consent", resp.Data.Message)
	assert.Nil(t, findCookie(w.Result().Cookies(), consent.CookieGranted))
}
