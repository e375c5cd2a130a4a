// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
)

// ListSettings returns every stored setting ordered by key.
func (q *Queries) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Setting
	for rows.Next() {
		var i Setting
		if err := rows.Scan(&i.Key, &i.Value, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetSetting returns one setting. It returns sql.ErrNoRows when the key is unset.
func (q *Queries) GetSetting(ctx context.Context, key string) (Setting, error) {
	var i Setting
	err := q.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key).
		Scan(&i.Key, &i.Value, &i.UpdatedAt)
	return i, err
}

// UpsertSetting stores value under key, replacing any previous value.
func (q *Queries) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, timeNow().Format(sqliteTimeFormat))
	return err
}

// InsertSettingIfMissing stores value only when key has never been written.
func (q *Queries) InsertSettingIfMissing(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	`, key, value, timeNow().Format(sqliteTimeFormat))
	return err
}
