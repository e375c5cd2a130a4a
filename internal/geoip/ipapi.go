// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultIPAPIURL is the ip-api.com JSON endpoint.
const DefaultIPAPIURL = "http://ip-api.com/json"

// IPAPI resolves addresses with the ip-api.com JSON API.
type IPAPI struct {
	baseURL string
	client  *http.Client
}

// NewIPAPI creates an ip-api.com client. An empty baseURL uses
// DefaultIPAPIURL; timeout bounds each HTTP exchange.
func NewIPAPI(baseURL string, timeout time.Duration) *IPAPI {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &IPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Country    string `json:"country"`
}

// Locate queries <baseURL>/<ip>.
func (c *IPAPI) Locate(ctx context.Context, ip string) (Location, error) {
	if _, err := publicIP(ip); err != nil {
		return Location{}, err
	}

	endpoint := c.baseURL + "/" + url.PathEscape(ip) + "?fields=status,message,country,regionName,city"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("building ip-api request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: ip-api returned HTTP %d", ErrLookupFailed, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: decoding ip-api response: %w", ErrLookupFailed, err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("%w: ip-api status %q: %s", ErrLookupFailed, body.Status, body.Message)
	}

	return Location{
		City:    body.City,
		State:   body.RegionName,
		Country: body.Country,
	}, nil
}

// Name identifies the provider in logs and metrics.
func (c *IPAPI) Name() string { return "ip-api" }
