// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"
)

// testDB creates a temporary test database.
func testDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "gtmconsent-test-*.db")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	dbPath := f.Name()
	_ = f.Close()

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		t.Fatalf("Migrate: %v", err)
	}

	return db, func() { _ = db.Close() }
}

func insertStatus(t *testing.T, q *Queries, status string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := q.InsertConsentLog(context.Background(), InsertConsentLogParams{
			IPAddress:     "203.0.113.7",
			ConsentStatus: status,
		}); err != nil {
			t.Fatalf("InsertConsentLog(%s): %v", status, err)
		}
	}
}

func TestInsertConsentLog(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	fixed := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = orig }()

	q := New(db)
	ctx := context.Background()

	row, err := q.InsertConsentLog(ctx, InsertConsentLogParams{
		IPAddress:     "198.51.100.1",
		UserAgent:     "Mozilla/5.0",
		ConsentStatus: "accepted",
		City:          "Berlin",
		Country:       "Germany",
		UtmSource:     "newsletter",
		ReferrerURL:   "example.com",
		SessionID:     "sess-1",
	})
	if err != nil {
		t.Fatalf("InsertConsentLog: %v", err)
	}
	if row.ID == 0 {
		t.Error("row.ID should not be 0")
	}

	got, err := q.GetConsentLog(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetConsentLog: %v", err)
	}
	if got.ConsentStatus != "accepted" {
		t.Errorf("ConsentStatus = %q, want %q", got.ConsentStatus, "accepted")
	}
	if got.City != "Berlin" || got.State != "" || got.Country != "Germany" {
		t.Errorf("location = %q/%q/%q, want Berlin//Germany", got.City, got.State, got.Country)
	}
	if got.ReferrerURL != "example.com" {
		t.Errorf("ReferrerURL = %q, want %q", got.ReferrerURL, "example.com")
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, fixed)
	}
}

func TestConsentStatusConstraint(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	_, err := New(db).InsertConsentLog(context.Background(), InsertConsentLogParams{ConsentStatus: "maybe"})
	if err == nil {
		t.Fatal("expected CHECK constraint to reject unknown status")
	}
}

func TestGetConsentStatistics(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	q := New(db)
	insertStatus(t, q, "accepted", 3)
	insertStatus(t, q, "declined", 2)
	insertStatus(t, q, "no_action", 1)

	stats, err := q.GetConsentStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetConsentStatistics: %v", err)
	}

	want := ConsentStatistics{Accepted: 3, Declined: 2, NoAction: 1, TotalVisitors: 6}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestGetConsentStatisticsEmpty(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	stats, err := New(db).GetConsentStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetConsentStatistics: %v", err)
	}
	if stats != (ConsentStatistics{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestListConsentLogs(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	q := New(db)
	ctx := context.Background()

	sources := []string{"google", "newsletter", "facebook", "news_50%"}
	for i, src := range sources {
		status := "accepted"
		if i%2 == 1 {
			status = "declined"
		}
		if _, err := q.InsertConsentLog(ctx, InsertConsentLogParams{
			IPAddress:     "192.0.2.1",
			ConsentStatus: status,
			UtmSource:     src,
		}); err != nil {
			t.Fatalf("InsertConsentLog: %v", err)
		}
	}

	t.Run("default order is newest first", func(t *testing.T) {
		rows, err := q.ListConsentLogs(ctx, ListConsentLogsParams{})
		if err != nil {
			t.Fatalf("ListConsentLogs: %v", err)
		}
		if len(rows) != 4 {
			t.Fatalf("len = %d, want 4", len(rows))
		}
		if rows[0].UtmSource != "news_50%" {
			t.Errorf("first row = %q, want newest", rows[0].UtmSource)
		}
	})

	t.Run("sort by utm_source ascending", func(t *testing.T) {
		rows, err := q.ListConsentLogs(ctx, ListConsentLogsParams{OrderBy: OrderByUtmSource, Asc: true})
		if err != nil {
			t.Fatalf("ListConsentLogs: %v", err)
		}
		if rows[0].UtmSource != "facebook" {
			t.Errorf("first row = %q, want facebook", rows[0].UtmSource)
		}
	})

	t.Run("unknown order column falls back", func(t *testing.T) {
		if _, err := q.ListConsentLogs(ctx, ListConsentLogsParams{OrderBy: "id; DROP TABLE consent_logs"}); err != nil {
			t.Fatalf("ListConsentLogs: %v", err)
		}
		n, err := q.CountConsentLogs(ctx, "")
		if err != nil || n != 4 {
			t.Errorf("CountConsentLogs = %d, %v; want 4", n, err)
		}
	})

	t.Run("search matches substrings", func(t *testing.T) {
		n, err := q.CountConsentLogs(ctx, "news")
		if err != nil {
			t.Fatalf("CountConsentLogs: %v", err)
		}
		if n != 2 {
			t.Errorf("count(news) = %d, want 2", n)
		}

		n, _ = q.CountConsentLogs(ctx, "declined")
		if n != 2 {
			t.Errorf("count(declined) = %d, want 2", n)
		}
	})

	t.Run("search escapes wildcards", func(t *testing.T) {
		n, err := q.CountConsentLogs(ctx, "50%")
		if err != nil {
			t.Fatalf("CountConsentLogs: %v", err)
		}
		if n != 1 {
			t.Errorf("count(50%%) = %d, want 1", n)
		}
	})

	t.Run("paging", func(t *testing.T) {
		rows, err := q.ListConsentLogs(ctx, ListConsentLogsParams{Limit: 3, Offset: 3})
		if err != nil {
			t.Fatalf("ListConsentLogs: %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("len = %d, want 1", len(rows))
		}
	})
}

func TestFindLatestConsentLog(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return base }
	defer func() { timeNow = orig }()

	q := New(db)
	ctx := context.Background()

	if _, err := q.InsertConsentLog(ctx, InsertConsentLogParams{ConsentStatus: "accepted", SessionID: "abc"}); err != nil {
		t.Fatalf("InsertConsentLog: %v", err)
	}

	if _, err := q.InsertConsentLog(ctx, InsertConsentLogParams{ConsentStatus: "declined", SessionID: "abc"}); err != nil {
		t.Fatalf("InsertConsentLog: %v", err)
	}

	got, err := q.FindLatestConsentLog(ctx, "abc", base.Add(-5*time.Second))
	if err != nil {
		t.Fatalf("expected recent row, got %v", err)
	}
	if got.ConsentStatus != "declined" {
		t.Errorf("ConsentStatus = %q, want declined (newest row)", got.ConsentStatus)
	}

	_, err = q.FindLatestConsentLog(ctx, "other", base.Add(-5*time.Second))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("other session: err = %v, want sql.ErrNoRows", err)
	}

	_, err = q.FindLatestConsentLog(ctx, "abc", base.Add(time.Second))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("outside window: err = %v, want sql.ErrNoRows", err)
	}
}

func TestSettingsUpsert(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	q := New(db)
	ctx := context.Background()

	if err := q.InsertSettingIfMissing(ctx, "gtag_id", "GTM-AAAA"); err != nil {
		t.Fatalf("InsertSettingIfMissing: %v", err)
	}
	if err := q.InsertSettingIfMissing(ctx, "gtag_id", "GTM-BBBB"); err != nil {
		t.Fatalf("InsertSettingIfMissing: %v", err)
	}

	s, err := q.GetSetting(ctx, "gtag_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if s.Value != "GTM-AAAA" {
		t.Errorf("Value = %q, want first write to win", s.Value)
	}

	if err := q.UpsertSetting(ctx, "gtag_id", "G-CCCC"); err != nil {
		t.Fatalf("UpsertSetting: %v", err)
	}
	all, err := q.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(all) != 1 || all[0].Value != "G-CCCC" {
		t.Errorf("settings = %+v, want single G-CCCC", all)
	}

	if _, err := q.GetSetting(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSetting(missing) err = %v, want sql.ErrNoRows", err)
	}
}

func TestEventLog(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	q := New(db)
	ctx := context.Background()

	for _, msg := range []string{"first", "second"} {
		if _, err := q.CreateEvent(ctx, CreateEventParams{Level: "warn", Category: "geo", Message: msg}); err != nil {
			t.Fatalf("CreateEvent: %v", err)
		}
	}

	events, err := q.ListRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "second" {
		t.Errorf("first event = %q, want newest", events[0].Message)
	}
	if events[0].Metadata != "{}" {
		t.Errorf("Metadata = %q, want {}", events[0].Metadata)
	}
}

func TestUninstall(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()

	ctx := context.Background()
	insertStatus(t, New(db), "accepted", 1)

	if err := Uninstall(ctx, db); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('consent_logs', 'settings', 'event_log')`).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if n != 0 {
		t.Errorf("%d consent tables remain after uninstall", n)
	}

	// A fresh install on the same database must succeed.
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate after Uninstall: %v", err)
	}
}
