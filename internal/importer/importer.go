// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
)

// ErrNotEmpty is returned when the destination already holds consent logs
// and the import was not forced.
var ErrNotEmpty = errors.New("destination already contains consent logs")

// Options controls an import run.
type Options struct {
	// Force imports logs even when the destination is not empty.
	Force bool
	// SkipSettings leaves the current settings untouched.
	SkipSettings bool
}

// Result summarizes an import run.
type Result struct {
	LogsImported int
	LogsSkipped  int
	Settings     int
	Warnings     []string
}

// Importer copies WordPress plugin data into the local store.
type Importer struct {
	db       *sql.DB
	settings *settings.Provider
	logger   *slog.Logger
}

// New creates an Importer writing to db.
func New(db *sql.DB, sp *settings.Provider, logger *slog.Logger) *Importer {
	return &Importer{db: db, settings: sp, logger: logger}
}

// Run imports all consent logs in one transaction, then the settings.
func (i *Importer) Run(ctx context.Context, src *Reader, opts Options) (Result, error) {
	var res Result

	if !opts.Force {
		n, err := store.New(i.db).CountConsentLogs(ctx, "")
		if err != nil {
			return res, fmt.Errorf("counting existing logs: %w", err)
		}
		if n > 0 {
			return res, ErrNotEmpty
		}
	}

	if err := i.importLogs(ctx, src, &res); err != nil {
		return res, err
	}

	if !opts.SkipSettings {
		if err := i.importSettings(ctx, src, &res); err != nil {
			return res, err
		}
	}

	i.logger.Info("WordPress import finished",
		"logs", res.LogsImported,
		"skipped", res.LogsSkipped,
		"settings", res.Settings)
	return res, nil
}

func (i *Importer) importLogs(ctx context.Context, src *Reader, res *Result) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := store.New(i.db).WithTx(tx)
	err = src.Logs(ctx, func(l LegacyLog) error {
		status, err := consent.ParseStatus(l.ConsentStatus)
		if err != nil {
			i.logger.Warn("skipping consent log", "id", l.ID, "status", l.ConsentStatus)
			res.LogsSkipped++
			return nil
		}
		created := l.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := q.ImportConsentLog(ctx, toParams(l, status), created); err != nil {
			return fmt.Errorf("importing consent log %d: %w", l.ID, err)
		}
		res.LogsImported++
		return nil
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

func toParams(l LegacyLog, status consent.Status) store.InsertConsentLogParams {
	attr := consent.Attribution{
		UtmSource:   l.UtmSource,
		UtmMedium:   l.UtmMedium,
		UtmCampaign: l.UtmCampaign,
		ReferrerURL: l.ReferrerURL,
	}.Sanitized()
	return store.InsertConsentLogParams{
		IPAddress:     consent.Truncate(l.IPAddress, 45),
		UserAgent:     consent.Truncate(l.UserAgent, 1024),
		ConsentStatus: string(status),
		City:          consent.Truncate(l.City, consent.MaxFieldLength),
		State:         consent.Truncate(l.State, consent.MaxFieldLength),
		Country:       consent.Truncate(l.Country, consent.MaxFieldLength),
		UtmSource:     attr.UtmSource,
		UtmMedium:     attr.UtmMedium,
		UtmCampaign:   attr.UtmCampaign,
		ReferrerURL:   attr.ReferrerURL,
	}
}

// importSettings runs the WordPress options through the same validation as
// the admin settings form.
func (i *Importer) importSettings(ctx context.Context, src *Reader, res *Result) error {
	opts, err := src.Options(ctx)
	if err != nil {
		return err
	}
	if len(opts) == 0 {
		return nil
	}

	form := url.Values{}
	for _, key := range settings.Keys {
		if v, ok := opts[key]; ok {
			form.Set(key, v)
			res.Settings++
		}
	}

	next, warnings := settings.ApplyForm(i.settings.Current(), form)
	res.Warnings = append(res.Warnings, warnings...)
	if err := i.settings.Save(ctx, next); err != nil {
		return fmt.Errorf("saving imported settings: %w", err)
	}
	return nil
}
