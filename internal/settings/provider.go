// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/olegiv/gtm-consent/internal/store"
)

// Provider loads settings from the database and publishes the current
// value through an atomic pointer.
type Provider struct {
	db      *sql.DB
	logger  *slog.Logger
	current atomic.Pointer[Settings]
}

// NewProvider creates a Provider serving Defaults until Load is called.
func NewProvider(db *sql.DB, logger *slog.Logger) *Provider {
	p := &Provider{db: db, logger: logger}
	d := Defaults()
	p.current.Store(&d)
	return p
}

// Current returns a copy of the published settings.
func (p *Provider) Current() Settings {
	return *p.current.Load()
}

// Load writes defaults for keys that have no row yet and publishes the
// stored settings.
func (p *Provider) Load(ctx context.Context) (Settings, error) {
	q := store.New(p.db)

	for key, value := range Defaults().ToMap() {
		if err := q.InsertSettingIfMissing(ctx, key, value); err != nil {
			return Settings{}, fmt.Errorf("writing default setting %s: %w", key, err)
		}
	}

	rows, err := q.ListSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("listing settings: %w", err)
	}

	m := make(map[string]string, len(rows))
	for _, r := range rows {
		m[r.Key] = r.Value
	}
	s := FromMap(m)
	p.current.Store(&s)
	return s, nil
}

// Save persists s in one transaction and publishes it.
func (p *Provider) Save(ctx context.Context, s Settings) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settings transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := store.New(p.db).WithTx(tx)
	for key, value := range s.ToMap() {
		if err := q.UpsertSetting(ctx, key, value); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}

	p.current.Store(&s)
	p.logger.Info("settings saved", "gtm_id", s.GTMID)
	return nil
}
