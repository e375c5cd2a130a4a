// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/olegiv/gtm-consent/internal/logging"
	"github.com/olegiv/gtm-consent/internal/middleware"
	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
)

// SettingsHandler serves the notice settings form.
type SettingsHandler struct {
	queries  *store.Queries
	renderer *render.Renderer
	settings *settings.Provider
	logger   *slog.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(db *sql.DB, renderer *render.Renderer, sp *settings.Provider, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		queries:  store.New(db),
		renderer: renderer,
		settings: sp,
		logger:   logger,
	}
}

// SelectOption is one entry of a select box.
type SelectOption struct {
	Value    string
	Label    string
	Selected bool
}

// SettingsFormData holds data for the settings template.
type SettingsFormData struct {
	Settings        settings.Settings
	NoticePositions []SelectOption
	IconPositions   []SelectOption
}

// Edit renders the settings form.
func (h *SettingsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Current()
	renderPage(w, r, h.renderer, h.logger, "admin/settings", render.TemplateData{
		Title: "GTM Consent Settings",
		Nav:   "settings",
		Data: SettingsFormData{
			Settings: s,
			NoticePositions: []SelectOption{
				{string(settings.NoticeBottomLeft), "Bottom Left", s.NoticePosition == settings.NoticeBottomLeft},
				{string(settings.NoticeBottomRight), "Bottom Right", s.NoticePosition == settings.NoticeBottomRight},
				{string(settings.NoticeCenter), "Center", s.NoticePosition == settings.NoticeCenter},
			},
			IconPositions: []SelectOption{
				{string(settings.IconBottomLeft), "Bottom Left", s.IconPosition == settings.IconBottomLeft},
				{string(settings.IconBottomRight), "Bottom Right", s.IconPosition == settings.IconBottomRight},
				{string(settings.IconHide), "Hide", s.IconPosition == settings.IconHide},
			},
		},
	})
}

// Update validates and saves the submitted settings. Rejected fields keep
// their previous value and are reported as a warning flash; the rest save.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRedirect(w, r, h.renderer, redirectSettings) {
		return
	}

	prev := h.settings.Current()
	next, warnings := settings.ApplyForm(prev, r.PostForm)

	if err := h.settings.Save(r.Context(), next); err != nil {
		h.logger.Error("failed to save settings", "error", err)
		flashError(w, r, h.renderer, redirectSettings, "Error saving settings")
		return
	}

	if changed := changedKeys(prev, next); len(changed) > 0 {
		h.audit(r, changed)
	}

	if len(warnings) > 0 {
		flashAndRedirect(w, r, h.renderer, redirectSettings,
			"Settings saved with warnings: "+strings.Join(warnings, " "), "warning")
		return
	}
	flashSuccess(w, r, h.renderer, redirectSettings, "Settings saved")
}

func (h *SettingsHandler) audit(r *http.Request, changed []string) {
	meta, _ := json.Marshal(map[string]any{
		"admin":   middleware.AdminUser(r),
		"changed": changed,
	})
	if _, err := h.queries.CreateEvent(r.Context(), store.CreateEventParams{
		Level:    logging.LevelInfo,
		Category: logging.CategorySettings,
		Message:  "Settings updated",
		Metadata: string(meta),
	}); err != nil {
		h.logger.Warn("failed to write settings audit event", "error", err)
	}
}

func changedKeys(prev, next settings.Settings) []string {
	a, b := prev.ToMap(), next.ToMap()
	var changed []string
	for k, v := range b {
		if a[k] != v {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
