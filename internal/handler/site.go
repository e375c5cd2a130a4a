// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/widget"
)

// SiteHandler serves the demo host page that embeds the consent widget.
type SiteHandler struct {
	renderer *render.Renderer
	widget   *widget.Renderer
	sessions *session.Manager
	settings *settings.Provider
	logger   *slog.Logger
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(renderer *render.Renderer, wr *widget.Renderer, sm *session.Manager, sp *settings.Provider, logger *slog.Logger) *SiteHandler {
	return &SiteHandler{
		renderer: renderer,
		widget:   wr,
		sessions: sm,
		settings: sp,
		logger:   logger,
	}
}

// SitePage holds the widget markup for a host page.
type SitePage struct {
	Head template.HTML
	Body template.HTML
}

// Home renders the demo page.
func (h *SiteHandler) Home(w http.ResponseWriter, r *http.Request) {
	page, err := h.Widget(r)
	if err != nil {
		logAndInternalError(w, h.logger, "failed to render consent widget", "error", err)
		return
	}
	// Responses carry a per-session token.
	w.Header().Set("Cache-Control", "private, no-store")
	renderPage(w, r, h.renderer, h.logger, "site/index", render.TemplateData{
		Title: "GTM Consent",
		Data:  page,
	})
}

// Widget renders the head and body markup for the visitor of r, issuing
// a consent token into the session when needed.
func (h *SiteHandler) Widget(r *http.Request) (SitePage, error) {
	s := h.settings.Current()
	if !s.Active() {
		return SitePage{}, nil
	}

	token, err := h.sessions.ConsentToken(r.Context())
	if err != nil {
		return SitePage{}, err
	}

	p := widget.Page{
		Settings: s,
		State:    consent.ReadState(r),
		Token:    token,
	}
	head, err := h.widget.Head(p)
	if err != nil {
		return SitePage{}, err
	}
	body, err := h.widget.Body(p)
	if err != nil {
		return SitePage{}, err
	}
	return SitePage{Head: head, Body: body}, nil
}
