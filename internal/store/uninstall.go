// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// uninstallTables lists everything Uninstall drops, in drop order.
var uninstallTables = []string{
	"consent_logs",
	"settings",
	"event_log",
	"goose_db_version",
}

// Uninstall deletes all settings and drops the consent tables.
// It is destructive and irreversible; sessions are kept so a running
// instance can still log its administrator out.
func Uninstall(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning uninstall: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range uninstallTables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing uninstall: %w", err)
	}
	return nil
}
