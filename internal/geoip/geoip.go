// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package geoip resolves visitor IP addresses to a coarse location
// (city, region, country) for consent log rows.
package geoip

import (
	"context"
	"errors"
	"net"

	"github.com/olegiv/gtm-consent/internal/util"
)

var (
	// ErrPrivateAddress is returned for loopback, private, and unparseable addresses.
	ErrPrivateAddress = errors.New("geoip: private or invalid address")

	// ErrLookupFailed is returned when a provider cannot resolve an address.
	ErrLookupFailed = errors.New("geoip: lookup failed")
)

// Location is a coarse geolocation. Empty fields mean unknown.
type Location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// IsZero reports whether no field is known.
func (l Location) IsZero() bool {
	return l.City == "" && l.State == "" && l.Country == ""
}

// Locator resolves an IP address to a Location.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context, ip string) (Location, error)

func (f LocatorFunc) Locate(ctx context.Context, ip string) (Location, error) {
	return f(ctx, ip)
}

// publicIP parses ip and returns ErrPrivateAddress unless it is a
// routable public address.
func publicIP(ip string) (net.IP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsUnspecified() || util.IsPrivateIP(parsed) {
		return nil, ErrPrivateAddress
	}
	return parsed, nil
}
