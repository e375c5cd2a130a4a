// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/olegiv/gtm-consent/internal/cache"
)

// Cached memoizes successful lookups of an inner Locator.
type Cached struct {
	inner  Locator
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
	onHit  func()
}

// NewCached wraps inner with c. Failed lookups are not cached.
func NewCached(inner Locator, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// OnHit registers a callback invoked on every cache hit.
func (c *Cached) OnHit(fn func()) *Cached {
	c.onHit = fn
	return c
}

func cacheKey(ip string) string {
	return "geo:" + ip
}

func (c *Cached) Locate(ctx context.Context, ip string) (Location, error) {
	if _, err := publicIP(ip); err != nil {
		return Location{}, err
	}

	if data, err := c.cache.Get(ctx, cacheKey(ip)); err == nil {
		var loc Location
		if err := json.Unmarshal(data, &loc); err == nil {
			if c.onHit != nil {
				c.onHit()
			}
			return loc, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug("geo cache read failed", "error", err)
	}

	loc, err := c.inner.Locate(ctx, ip)
	if err != nil {
		return Location{}, err
	}

	if data, err := json.Marshal(loc); err == nil {
		if err := c.cache.Set(ctx, cacheKey(ip), data, c.ttl); err != nil {
			c.logger.Debug("geo cache write failed", "error", err)
		}
	}
	return loc, nil
}

func (c *Cached) Name() string { return "cached" }
