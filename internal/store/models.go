// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"time"
)

// ConsentLog is one row of the append-only consent log.
type ConsentLog struct {
	ID            int64     `json:"id"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	ConsentStatus string    `json:"consent_status"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	Country       string    `json:"country"`
	UtmSource     string    `json:"utm_source"`
	UtmMedium     string    `json:"utm_medium"`
	UtmCampaign   string    `json:"utm_campaign"`
	ReferrerURL   string    `json:"referrer_url"`
	SessionID     string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Setting is one key/value pair of the settings record.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Event is one entry of the operational event log.
type Event struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	Metadata  string
	CreatedAt time.Time
}
