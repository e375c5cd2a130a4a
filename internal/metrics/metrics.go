// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the consent service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConsentRecorded   *prometheus.CounterVec
	ConsentDuplicates *prometheus.CounterVec
	ConsentRejected   *prometheus.CounterVec
	GeoLookupDuration prometheus.Histogram
	GeoLookupFailures *prometheus.CounterVec
	GeoCacheHits      prometheus.Counter
}

// New registers the collectors on reg. Passing a fresh registry per test
// avoids duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ConsentRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gtmconsent_consent_recorded_total",
			Help: "Consent log rows appended, by status",
		}, []string{"status"}),
		ConsentDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gtmconsent_consent_duplicates_total",
			Help: "Consent calls suppressed by the duplicate window, by status",
		}, []string{"status"}),
		ConsentRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gtmconsent_consent_rejected_total",
			Help: "Consent calls rejected before recording, by reason",
		}, []string{"reason"}),
		GeoLookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtmconsent_geo_lookup_duration_seconds",
			Help:    "Duration of geolocation lookups on the consent path",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeoLookupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gtmconsent_geo_lookup_failures_total",
			Help: "Geolocation lookups that returned an error, by provider",
		}, []string{"provider"}),
		GeoCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "gtmconsent_geo_cache_hits_total",
			Help: "Geolocation lookups served from cache",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncConsentRecorded(status string) {
	if m == nil {
		return
	}
	m.ConsentRecorded.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConsentDuplicate(status string) {
	if m == nil {
		return
	}
	m.ConsentDuplicates.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConsentRejected(reason string) {
	if m == nil {
		return
	}
	m.ConsentRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveGeoLookup(start time.Time) {
	if m == nil {
		return
	}
	m.GeoLookupDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncGeoFailure(provider string) {
	if m == nil {
		return
	}
	m.GeoLookupFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncGeoCacheHit() {
	if m == nil {
		return
	}
	m.GeoCacheHits.Inc()
}
