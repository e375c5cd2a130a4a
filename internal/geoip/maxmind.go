// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// MaxMind resolves addresses from a local GeoLite2-City database.
// The database file can be replaced on disk and picked up with Reload.
type MaxMind struct {
	mu        sync.RWMutex
	db        *maxminddb.Reader
	dbPath    string
	dbModTime time.Time
	lang      string
}

// cityRecord matches the GeoLite2-City database structure.
type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Country struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// OpenMaxMind opens the database at path. Names are returned in English.
func OpenMaxMind(path string) (*MaxMind, error) {
	m := &MaxMind{dbPath: path, lang: "en"}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load opens or reopens the database. Caller must hold m.mu or own m exclusively.
func (m *MaxMind) load() error {
	info, err := os.Stat(m.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", m.dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	if m.db != nil && info.ModTime().Equal(m.dbModTime) {
		return nil
	}

	db, err := maxminddb.Open(m.dbPath)
	if err != nil {
		return fmt.Errorf("opening GeoIP database: %w", err)
	}

	if m.db != nil {
		_ = m.db.Close()
	}
	m.db = db
	m.dbModTime = info.ModTime()
	return nil
}

// Reload reopens the database if the file changed since the last load.
func (m *MaxMind) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *MaxMind) Locate(_ context.Context, ip string) (Location, error) {
	parsed, err := publicIP(ip)
	if err != nil {
		return Location{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return Location{}, fmt.Errorf("%w: database closed", ErrLookupFailed)
	}

	var rec cityRecord
	if err := m.db.Lookup(parsed, &rec); err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	loc := Location{
		City:    rec.City.Names[m.lang],
		Country: rec.Country.Names[m.lang],
	}
	if len(rec.Subdivisions) > 0 {
		loc.State = rec.Subdivisions[0].Names[m.lang]
	}
	if loc.IsZero() {
		return Location{}, fmt.Errorf("%w: no record for %s", ErrLookupFailed, ip)
	}
	return loc, nil
}

func (m *MaxMind) Name() string { return "maxmind" }

// Close closes the database.
func (m *MaxMind) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
