// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeFormat matches CURRENT_TIMESTAMP so stored values compare as text.
const sqliteTimeFormat = "2006-01-02 15:04:05"

// timeNow is the store clock; created_at is always assigned here.
var timeNow = func() time.Time { return time.Now().UTC() }

const consentLogColumns = `id, ip_address, user_agent, consent_status, city, state, country,
	utm_source, utm_medium, utm_campaign, referrer_url, session_id, created_at`

// InsertConsentLogParams holds the caller-supplied columns of a consent log row.
type InsertConsentLogParams struct {
	IPAddress     string
	UserAgent     string
	ConsentStatus string
	City          string
	State         string
	Country       string
	UtmSource     string
	UtmMedium     string
	UtmCampaign   string
	ReferrerURL   string
	SessionID     string
}

// InsertConsentLog appends a row. The id and created_at are assigned by the store.
func (q *Queries) InsertConsentLog(ctx context.Context, arg InsertConsentLogParams) (ConsentLog, error) {
	createdAt := timeNow().Truncate(time.Second)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO consent_logs (
			ip_address, user_agent, consent_status, city, state, country,
			utm_source, utm_medium, utm_campaign, referrer_url, session_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, arg.IPAddress, arg.UserAgent, arg.ConsentStatus, arg.City, arg.State, arg.Country,
		arg.UtmSource, arg.UtmMedium, arg.UtmCampaign, arg.ReferrerURL, arg.SessionID,
		createdAt.Format(sqliteTimeFormat))
	if err != nil {
		return ConsentLog{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ConsentLog{}, fmt.Errorf("reading inserted id: %w", err)
	}

	return ConsentLog{
		ID:            id,
		IPAddress:     arg.IPAddress,
		UserAgent:     arg.UserAgent,
		ConsentStatus: arg.ConsentStatus,
		City:          arg.City,
		State:         arg.State,
		Country:       arg.Country,
		UtmSource:     arg.UtmSource,
		UtmMedium:     arg.UtmMedium,
		UtmCampaign:   arg.UtmCampaign,
		ReferrerURL:   arg.ReferrerURL,
		SessionID:     arg.SessionID,
		CreatedAt:     createdAt,
	}, nil
}

// ImportConsentLog inserts a row carried over from another installation,
// keeping its original timestamp. Only the importer calls this.
func (q *Queries) ImportConsentLog(ctx context.Context, arg InsertConsentLogParams, createdAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO consent_logs (
			ip_address, user_agent, consent_status, city, state, country,
			utm_source, utm_medium, utm_campaign, referrer_url, session_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, arg.IPAddress, arg.UserAgent, arg.ConsentStatus, arg.City, arg.State, arg.Country,
		arg.UtmSource, arg.UtmMedium, arg.UtmCampaign, arg.ReferrerURL, arg.SessionID,
		createdAt.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetConsentLog returns a single row by id.
func (q *Queries) GetConsentLog(ctx context.Context, id int64) (ConsentLog, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+consentLogColumns+` FROM consent_logs WHERE id = ?`, id)
	return scanConsentLog(row)
}

// FindLatestConsentLog returns the session's newest row of any status
// created at or after since. It returns sql.ErrNoRows when there is none.
func (q *Queries) FindLatestConsentLog(ctx context.Context, sessionID string, since time.Time) (ConsentLog, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+consentLogColumns+`
		FROM consent_logs
		WHERE session_id = ? AND created_at >= ?
		ORDER BY id DESC
		LIMIT 1
	`, sessionID, since.UTC().Format(sqliteTimeFormat))
	return scanConsentLog(row)
}

// ConsentStatistics holds the dashboard counters.
type ConsentStatistics struct {
	Accepted      int64 `json:"accepted"`
	Declined      int64 `json:"declined"`
	NoAction      int64 `json:"noAction"`
	TotalVisitors int64 `json:"totalVisitors"`
}

// GetConsentStatistics counts rows by status plus the distinct row total.
func (q *Queries) GetConsentStatistics(ctx context.Context) (ConsentStatistics, error) {
	var s ConsentStatistics
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN consent_status = 'accepted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN consent_status = 'declined' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN consent_status = 'no_action' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT id)
		FROM consent_logs
	`).Scan(&s.Accepted, &s.Declined, &s.NoAction, &s.TotalVisitors)
	return s, err
}

// Sortable columns of the admin log list.
const (
	OrderByCreatedAt     = "created_at"
	OrderByConsentStatus = "consent_status"
	OrderByUtmSource     = "utm_source"
)

var consentLogOrderColumns = map[string]string{
	OrderByCreatedAt:     "created_at",
	OrderByConsentStatus: "consent_status",
	OrderByUtmSource:     "utm_source",
}

// ListConsentLogsParams controls search, sort and paging of the log list.
type ListConsentLogsParams struct {
	Search  string
	OrderBy string
	Asc     bool
	Limit   int
	Offset  int
}

// searchFilter builds the WHERE clause shared by ListConsentLogs and CountConsentLogs.
func searchFilter(search string) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	like := "%" + escapeLike(search) + "%"
	clause := ` WHERE utm_source LIKE ? ESCAPE '\'
		OR utm_medium LIKE ? ESCAPE '\'
		OR utm_campaign LIKE ? ESCAPE '\'
		OR referrer_url LIKE ? ESCAPE '\'
		OR ip_address LIKE ? ESCAPE '\'
		OR consent_status LIKE ? ESCAPE '\'`
	return clause, []any{like, like, like, like, like, like}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListConsentLogs returns one page of rows. Unknown OrderBy values sort by created_at.
func (q *Queries) ListConsentLogs(ctx context.Context, arg ListConsentLogsParams) ([]ConsentLog, error) {
	col, ok := consentLogOrderColumns[arg.OrderBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if arg.Asc {
		dir = "ASC"
	}
	limit := arg.Limit
	if limit <= 0 {
		limit = 20
	}

	where, args := searchFilter(arg.Search)
	query := `SELECT ` + consentLogColumns + ` FROM consent_logs` + where +
		` ORDER BY ` + col + ` ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`
	args = append(args, limit, arg.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []ConsentLog
	for rows.Next() {
		i, err := scanConsentLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountConsentLogs returns the number of rows matching search.
func (q *Queries) CountConsentLogs(ctx context.Context, search string) (int64, error) {
	where, args := searchFilter(search)
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consent_logs`+where, args...).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsentLog(row rowScanner) (ConsentLog, error) {
	var i ConsentLog
	err := row.Scan(
		&i.ID,
		&i.IPAddress,
		&i.UserAgent,
		&i.ConsentStatus,
		&i.City,
		&i.State,
		&i.Country,
		&i.UtmSource,
		&i.UtmMedium,
		&i.UtmCampaign,
		&i.ReferrerURL,
		&i.SessionID,
		&i.CreatedAt,
	)
	return i, err
}
