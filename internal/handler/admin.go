// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/scheduler"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
)

// LogsPerPage is the page size of the consent log list.
const LogsPerPage = 20

const dashboardEventLimit = 10

// AdminHandler serves the dashboard, the consent log list and the stats API.
type AdminHandler struct {
	queries   *store.Queries
	renderer  *render.Renderer
	settings  *settings.Provider
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. sched may be nil.
func NewAdminHandler(db *sql.DB, renderer *render.Renderer, sp *settings.Provider, sched *scheduler.Scheduler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		queries:   store.New(db),
		renderer:  renderer,
		settings:  sp,
		scheduler: sched,
		logger:    logger,
	}
}

// DashboardData holds data for the dashboard template.
type DashboardData struct {
	Stats  store.ConsentStatistics
	GTMID  string
	Events []store.Event
	Jobs   []scheduler.JobInfo
}

// Dashboard renders the admin dashboard.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetConsentStatistics(r.Context())
	if err != nil {
		logAndInternalError(w, h.logger, "failed to load consent statistics", "error", err)
		return
	}

	events, err := h.queries.ListRecentEvents(r.Context(), dashboardEventLimit)
	if err != nil {
		h.logger.Warn("failed to load recent events", "error", err)
	}

	data := DashboardData{
		Stats:  stats,
		GTMID:  h.settings.Current().GTMID,
		Events: events,
	}
	if h.scheduler != nil {
		data.Jobs = h.scheduler.Jobs()
	}

	renderPage(w, r, h.renderer, h.logger, "admin/dashboard", render.TemplateData{
		Title: "GTM Consent Dashboard",
		Data:  data,
		Nav:   "dashboard",
	})
}

// Stats returns the consent statistics as JSON.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetConsentStatistics(r.Context())
	if err != nil {
		h.logger.Error("failed to load consent statistics", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Unable to load statistics")
		return
	}
	writeJSONSuccess(w, map[string]any{"data": stats})
}

// LogRow is one consent log entry prepared for display.
type LogRow struct {
	store.ConsentLog
	Status   consent.Status
	Agent    ParsedUA
	Location string
}

// SortLink is a column header link of the log list.
type SortLink struct {
	Label  string
	URL    string
	Active bool
	Asc    bool
}

// LogsData holds data for the consent log template.
type LogsData struct {
	Rows       []LogRow
	Search     string
	OrderBy    string
	Order      string
	Columns    []SortLink
	Pagination AdminPagination
}

var sortableColumns = []struct{ key, label string }{
	{store.OrderByCreatedAt, "Date"},
	{store.OrderByConsentStatus, "Status"},
	{store.OrderByUtmSource, "UTM Source"},
}

// Logs renders one page of the consent log.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := strings.TrimSpace(q.Get("s"))
	orderBy := q.Get("orderby")
	if !isSortable(orderBy) {
		orderBy = store.OrderByCreatedAt
	}
	order := strings.ToLower(q.Get("order"))
	if order != "asc" {
		order = "desc"
	}

	total, err := h.queries.CountConsentLogs(r.Context(), search)
	if err != nil {
		logAndInternalError(w, h.logger, "failed to count consent logs", "error", err)
		return
	}

	page, _ := NormalizePagination(ParsePageParam(r), int(total), LogsPerPage)
	logs, err := h.queries.ListConsentLogs(r.Context(), store.ListConsentLogsParams{
		Search:  search,
		OrderBy: orderBy,
		Asc:     order == "asc",
		Limit:   LogsPerPage,
		Offset:  (page - 1) * LogsPerPage,
	})
	if err != nil {
		logAndInternalError(w, h.logger, "failed to list consent logs", "error", err)
		return
	}

	rows := make([]LogRow, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, newLogRow(l))
	}

	params := url.Values{}
	params.Set("s", search)
	params.Set("orderby", orderBy)
	params.Set("order", order)

	renderPage(w, r, h.renderer, h.logger, "admin/logs", render.TemplateData{
		Title: "Consent Logs",
		Nav:   "logs",
		Data: LogsData{
			Rows:       rows,
			Search:     search,
			OrderBy:    orderBy,
			Order:      order,
			Columns:    sortLinks(search, orderBy, order),
			Pagination: BuildAdminPagination(page, int(total), LogsPerPage, redirectLogs, params),
		},
	})
}

func newLogRow(l store.ConsentLog) LogRow {
	var parts []string
	for _, p := range []string{l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return LogRow{
		ConsentLog: l,
		Status:     consent.Status(l.ConsentStatus),
		Agent:      parseUserAgent(l.UserAgent),
		Location:   strings.Join(parts, ", "),
	}
}

func isSortable(col string) bool {
	for _, c := range sortableColumns {
		if c.key == col {
			return true
		}
	}
	return false
}

// sortLinks builds the column headers. Clicking the active column flips
// the direction, any other column starts descending.
func sortLinks(search, orderBy, order string) []SortLink {
	links := make([]SortLink, 0, len(sortableColumns))
	for _, c := range sortableColumns {
		active := c.key == orderBy
		next := "desc"
		if active && order == "desc" {
			next = "asc"
		}

		params := url.Values{}
		if search != "" {
			params.Set("s", search)
		}
		params.Set("orderby", c.key)
		params.Set("order", next)

		links = append(links, SortLink{
			Label:  c.label,
			URL:    redirectLogs + "?" + params.Encode(),
			Active: active,
			Asc:    active && order == "asc",
		})
	}
	return links
}
