// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/gtm-consent/internal/attribution"
	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/metrics"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/util"
)

// Consent API messages.
const (
	msgInvalidToken   = "Invalid security token"
	msgRecordFailed   = "Unable to record consent"
	msgGranted        = "Consent granted successfully"
	msgDeclined       = "Consent declined successfully"
	msgNoActionStored = "Preference recorded"
)

// HeaderConsentToken carries the request token for clients that do not post it as a form field.
const HeaderConsentToken = "X-Consent-Token"

const maxConsentBody = 64 << 10

// ConsentHandler serves the consent API used by the widget script.
type ConsentHandler struct {
	service  *consent.Service
	sessions *session.Manager
	settings *settings.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
	secure   bool
}

// NewConsentHandler creates a new ConsentHandler. secure marks the
// decision cookies Secure.
func NewConsentHandler(svc *consent.Service, sm *session.Manager, sp *settings.Provider, m *metrics.Metrics, logger *slog.Logger, secure bool) *ConsentHandler {
	return &ConsentHandler{
		service:  svc,
		sessions: sm,
		settings: sp,
		metrics:  m,
		logger:   logger,
		secure:   secure,
	}
}

// Routes mounts the consent endpoints on r.
func (h *ConsentHandler) Routes(r chi.Router) {
	r.Post("/grant", h.Grant)
	r.Post("/decline", h.Decline)
	r.Post("/no-action", h.NoAction)
}

// Grant records an accepted decision.
func (h *ConsentHandler) Grant(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, consent.StatusAccepted, msgGranted)
}

// Decline records a declined decision.
func (h *ConsentHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, consent.StatusDeclined, msgDeclined)
}

// NoAction records that the visitor closed the notice without deciding.
// A visitor who already holds a decision cookie gets a success answer and
// no new row.
func (h *ConsentHandler) NoAction(w http.ResponseWriter, r *http.Request) {
	if consent.ReadState(r).Decided() {
		if !h.checkToken(w, r) {
			return
		}
		writeConsentJSON(w, http.StatusOK, true, msgNoActionStored)
		return
	}
	h.record(w, r, consent.StatusNoAction, msgNoActionStored)
}

func (h *ConsentHandler) record(w http.ResponseWriter, r *http.Request, status consent.Status, message string) {
	if !h.checkToken(w, r) {
		return
	}

	res, err := h.service.Record(r.Context(), consent.Request{
		Status:      status,
		IP:          util.ClientIP(r),
		UserAgent:   r.UserAgent(),
		SessionID:   h.sessions.VisitorID(r.Context()),
		Attribution: attribution.Resolve(r),
	})
	if err != nil {
		h.logger.Error("failed to record consent", "status", status, "error", err)
		writeConsentJSON(w, http.StatusInternalServerError, false, msgRecordFailed)
		return
	}

	consent.WriteState(w, status.State(), consent.CookieOptions{
		ExpiryDays: h.settings.Current().CookieExpiry,
		Secure:     h.secure,
	})

	if !res.Duplicate {
		h.logger.Debug("consent recorded", "status", status, "log_id", res.Log.ID)
	}
	writeConsentJSON(w, http.StatusOK, true, message)
}

// checkToken parses the body and validates the request token, writing
// the 403 answer itself on failure.
func (h *ConsentHandler) checkToken(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxConsentBody)
	if err := r.ParseMultipartForm(maxConsentBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.reject(w, "bad_form")
		return false
	}

	if !h.sessions.ValidConsentToken(r.Context(), requestToken(r)) {
		h.reject(w, "invalid_token")
		return false
	}
	return true
}

func (h *ConsentHandler) reject(w http.ResponseWriter, reason string) {
	h.metrics.IncConsentRejected(reason)
	writeConsentJSON(w, http.StatusForbidden, false, msgInvalidToken)
}

func requestToken(r *http.Request) string {
	for _, name := range []string{"nonce", "_ajax_nonce"} {
		if v := r.PostFormValue(name); v != "" {
			return v
		}
	}
	return r.Header.Get(HeaderConsentToken)
}
