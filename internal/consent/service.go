// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/gtm-consent/internal/geoip"
	"github.com/olegiv/gtm-consent/internal/metrics"
	"github.com/olegiv/gtm-consent/internal/store"
)

// Column limits of the consent_logs table.
const (
	maxIPLength        = 45
	maxUserAgentLength = 1024
	maxLocationLength  = 100
)

// Store is the persistence used by Service.
type Store interface {
	InsertConsentLog(ctx context.Context, arg store.InsertConsentLogParams) (store.ConsentLog, error)
	FindLatestConsentLog(ctx context.Context, sessionID string, since time.Time) (store.ConsentLog, error)
}

// Request is one consent decision to record.
type Request struct {
	Status      Status
	IP          string
	UserAgent   string
	SessionID   string
	Attribution Attribution
}

// Result reports what Record did.
type Result struct {
	Log store.ConsentLog
	// Duplicate is set when the row was suppressed by the duplicate window.
	Duplicate bool
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	GeoTimeout   time.Duration
	DedupeWindow time.Duration
}

// Service records consent decisions with geolocation and attribution.
type Service struct {
	store   Store
	locator geoip.Locator
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService creates a Service. locator and m may be nil.
func NewService(s Store, locator geoip.Locator, m *metrics.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = 3 * time.Second
	}
	return &Service{
		store:   s,
		locator: locator,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Record appends one consent log row for req. Geolocation failures are
// logged and leave the location empty; only storage errors are returned.
func (s *Service) Record(ctx context.Context, req Request) (Result, error) {
	if !req.Status.Valid() {
		return Result{}, ErrInvalidStatus
	}

	if dup, ok := s.findDuplicate(ctx, req); ok {
		s.metrics.IncConsentDuplicate(string(req.Status))
		s.logger.Debug("duplicate consent suppressed",
			"status", req.Status, "session_id", req.SessionID, "log_id", dup.ID)
		return Result{Log: dup, Duplicate: true}, nil
	}

	loc := s.locate(ctx, req.IP)
	attr := req.Attribution.Sanitized()

	row, err := s.store.InsertConsentLog(ctx, store.InsertConsentLogParams{
		IPAddress:     Truncate(req.IP, maxIPLength),
		UserAgent:     Truncate(req.UserAgent, maxUserAgentLength),
		ConsentStatus: string(req.Status),
		City:          Truncate(loc.City, maxLocationLength),
		State:         Truncate(loc.State, maxLocationLength),
		Country:       Truncate(loc.Country, maxLocationLength),
		UtmSource:     attr.UtmSource,
		UtmMedium:     attr.UtmMedium,
		UtmCampaign:   attr.UtmCampaign,
		ReferrerURL:   attr.ReferrerURL,
		SessionID:     req.SessionID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("recording consent: %w", err)
	}

	s.metrics.IncConsentRecorded(string(req.Status))
	return Result{Log: row}, nil
}

func (s *Service) findDuplicate(ctx context.Context, req Request) (store.ConsentLog, bool) {
	if s.cfg.DedupeWindow <= 0 || req.SessionID == "" {
		return store.ConsentLog{}, false
	}

	since := s.now().Add(-s.cfg.DedupeWindow)
	row, err := s.store.FindLatestConsentLog(ctx, req.SessionID, since)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("duplicate check failed", "error", err)
		}
		return store.ConsentLog{}, false
	}
	// A change of mind inside the window is a new decision.
	if row.ConsentStatus != string(req.Status) {
		return store.ConsentLog{}, false
	}
	return row, true
}

func (s *Service) locate(ctx context.Context, ip string) geoip.Location {
	if s.locator == nil || ip == "" {
		return geoip.Location{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GeoTimeout)
	defer cancel()

	start := time.Now()
	loc, err := s.locator.Locate(ctx, ip)
	s.metrics.ObserveGeoLookup(start)
	if err != nil {
		if !errors.Is(err, geoip.ErrPrivateAddress) {
			s.metrics.IncGeoFailure(providerName(s.locator))
			s.logger.Warn("geolocation lookup failed", "ip", ip, "error", err)
		}
		return geoip.Location{}
	}
	return loc
}

func providerName(l geoip.Locator) string {
	if n, ok := l.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
