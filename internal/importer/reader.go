// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package importer copies consent logs and notice settings out of a
// WordPress database that ran the cookie consent plugin.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// OptionPrefix is the WordPress option name prefix of the plugin settings.
const OptionPrefix = "cookie_consent_for_google_tag_manager_"

// ErrInvalidPrefix is returned for table prefixes with characters other
// than letters, digits and underscores.
var ErrInvalidPrefix = errors.New("invalid table prefix")

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// LegacyLog is one row of the WordPress consent log table.
type LegacyLog struct {
	ID            int64
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
	CreatedAt     time.Time
}

// Reader reads the plugin tables from a WordPress database.
type Reader struct {
	db     *sql.DB
	prefix string
	owned  bool
}

// OpenReader connects to the WordPress MySQL database at dsn.
func OpenReader(dsn, prefix string) (*Reader, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, ErrInvalidPrefix
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing WordPress DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Reader{db: db, prefix: prefix, owned: true}, nil
}

// NewReader wraps an open connection.
func NewReader(db *sql.DB, prefix string) (*Reader, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, ErrInvalidPrefix
	}
	return &Reader{db: db, prefix: prefix}, nil
}

// Close closes the connection if the Reader opened it.
func (r *Reader) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}

// Logs calls fn for every consent log row in id order.
func (r *Reader) Logs(ctx context.Context, fn func(LegacyLog) error) error {
	query := `SELECT id, ip_address, user_agent, consent_status,
			COALESCE(city, ''), COALESCE(state, ''), COALESCE(country, ''),
			COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''),
			COALESCE(referrer_url, ''), created_at
		FROM ` + r.prefix + `gtm_consent_logs ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query consent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var l LegacyLog
		var created any
		if err := rows.Scan(&l.ID, &l.IPAddress, &l.UserAgent, &l.ConsentStatus,
			&l.City, &l.State, &l.Country,
			&l.UtmSource, &l.UtmMedium, &l.UtmCampaign,
			&l.ReferrerURL, &created); err != nil {
			return fmt.Errorf("failed to scan consent log: %w", err)
		}
		l.CreatedAt = parseTime(created)
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Options returns the plugin options keyed by setting name, with the
// plugin prefix removed.
func (r *Reader) Options(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT option_name, option_value FROM `+r.prefix+`options WHERE option_name LIKE ?`,
		OptionPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer func() { _ = rows.Close() }()

	opts := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		// "_" is a LIKE wildcard, so the prefix is checked again here.
		if !strings.HasPrefix(name, OptionPrefix) {
			continue
		}
		opts[strings.TrimPrefix(name, OptionPrefix)] = value
	}
	return opts, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
}

// parseTime accepts what MySQL (parseTime=true) and SQLite drivers return
// for DATETIME columns. Unparseable or NULL values become the zero time.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	}
	return time.Time{}
}

func parseTimeString(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
