// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package consent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/geoip"
	"github.com/olegiv/gtm-consent/internal/metrics"
	"github.com/olegiv/gtm-consent/internal/store"
	"github.com/olegiv/gtm-consent/internal/testutil"
)

func newTestService(t *testing.T, locator geoip.Locator, window time.Duration) (*Service, *store.Queries, *metrics.Metrics) {
	t.Helper()
	q := store.New(testutil.TestMemoryDB(t))
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(q, locator, m, testutil.TestLoggerSilent(), ServiceConfig{
		GeoTimeout:   time.Second,
		DedupeWindow: window,
	})
	return svc, q, m
}

func fixedLocator(loc geoip.Location) geoip.Locator {
	return geoip.LocatorFunc(func(context.Context, string) (geoip.Location, error) {
		return loc, nil
	})
}

func TestRecordPersistsRow(t *testing.T) {
	svc, q, m := newTestService(t, fixedLocator(geoip.Location{City: "Paris", State: "Ile-de-France", Country: "France"}), 0)
	ctx := context.Background()

	res, err := svc.Record(ctx, Request{
		Status:    StatusAccepted,
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0",
		SessionID: "sess-1",
		Attribution: Attribution{
			UtmSource:   "foo<script>",
			UtmMedium:   "email",
			UtmCampaign: "spring",
			ReferrerURL: "https://news.example.org/item?id=1",
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	got, err := q.GetConsentLog(ctx, res.Log.ID)
	require.NoError(t, err)
	assert.Equal(t, "accepted", got.ConsentStatus)
	assert.Equal(t, "foo", got.UtmSource)
	assert.Equal(t, "email", got.UtmMedium)
	assert.Equal(t, "spring", got.UtmCampaign)
	assert.Equal(t, "news.example.org", got.ReferrerURL)
	assert.Equal(t, "Paris", got.City)
	assert.Equal(t, "France", got.Country)

	assert.Equal(t, float64(1), promtest.ToFloat64(m.ConsentRecorded.WithLabelValues("accepted")))
}

func TestRecordGeoFailureStillPersists(t *testing.T) {
	failing := geoip.LocatorFunc(func(context.Context, string) (geoip.Location, error) {
		return geoip.Location{}, geoip.ErrLookupFailed
	})
	svc, q, m := newTestService(t, failing, 0)
	ctx := context.Background()

	res, err := svc.Record(ctx, Request{Status: StatusDeclined, IP: "8.8.8.8"})
	require.NoError(t, err)

	got, err := q.GetConsentLog(ctx, res.Log.ID)
	require.NoError(t, err)
	assert.Empty(t, got.City)
	assert.Empty(t, got.State)
	assert.Empty(t, got.Country)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.GeoLookupFailures.WithLabelValues("unknown")))
}

func TestRecordGeoTimeout(t *testing.T) {
	slow := geoip.LocatorFunc(func(ctx context.Context, _ string) (geoip.Location, error) {
		<-ctx.Done()
		return geoip.Location{}, ctx.Err()
	})
	q := store.New(testutil.TestMemoryDB(t))
	svc := NewService(q, slow, nil, testutil.TestLoggerSilent(), ServiceConfig{GeoTimeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := svc.Record(context.Background(), Request{Status: StatusNoAction, IP: "8.8.8.8"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotZero(t, res.Log.ID)
}

func TestRecordWithoutLocator(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)
	_, err := svc.Record(context.Background(), Request{Status: StatusAccepted, IP: "8.8.8.8"})
	assert.NoError(t, err)
}

func TestRecordInvalidStatus(t *testing.T) {
	svc, q, _ := newTestService(t, nil, 0)
	_, err := svc.Record(context.Background(), Request{Status: "granted"})
	assert.True(t, errors.Is(err, ErrInvalidStatus))

	stats, err := q.GetConsentStatistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVisitors)
}

func TestRecordTruncatesColumns(t *testing.T) {
	long := geoip.Location{City: strings.Repeat("c", 150)}
	svc, q, _ := newTestService(t, fixedLocator(long), 0)
	ctx := context.Background()

	res, err := svc.Record(ctx, Request{
		Status:      StatusAccepted,
		IP:          strings.Repeat("1", 60),
		Attribution: Attribution{UtmSource: strings.Repeat("s", 300)},
	})
	require.NoError(t, err)

	got, err := q.GetConsentLog(ctx, res.Log.ID)
	require.NoError(t, err)
	assert.Len(t, got.IPAddress, 45)
	assert.Len(t, got.City, 100)
	assert.Len(t, got.UtmSource, 255)
}

func TestRecordDedupe(t *testing.T) {
	svc, q, m := newTestService(t, nil, 10*time.Second)
	ctx := context.Background()

	req := Request{Status: StatusAccepted, IP: "8.8.8.8", SessionID: "visitor-1"}

	first, err := svc.Record(ctx, req)
	require.NoError(t, err)
	second, err := svc.Record(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Log.ID, second.Log.ID)

	// A different status is never suppressed.
	_, err = svc.Record(ctx, Request{Status: StatusDeclined, SessionID: "visitor-1"})
	require.NoError(t, err)

	// Requests without a session are never suppressed.
	_, err = svc.Record(ctx, Request{Status: StatusAccepted})
	require.NoError(t, err)
	_, err = svc.Record(ctx, Request{Status: StatusAccepted})
	require.NoError(t, err)

	stats, err := q.GetConsentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Accepted)
	assert.Equal(t, int64(1), stats.Declined)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.ConsentDuplicates.WithLabelValues("accepted")))
}

func TestRecordChangeOfMindInsideWindow(t *testing.T) {
	svc, q, _ := newTestService(t, nil, 10*time.Second)
	ctx := context.Background()

	var results []Result
	for _, st := range []Status{StatusAccepted, StatusDeclined, StatusAccepted} {
		res, err := svc.Record(ctx, Request{Status: st, SessionID: "visitor-4"})
		require.NoError(t, err)
		results = append(results, res)
	}

	for i, res := range results {
		assert.False(t, res.Duplicate, "decision %d suppressed", i)
	}
	assert.NotEqual(t, results[0].Log.ID, results[2].Log.ID)

	stats, err := q.GetConsentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Declined)
}

func TestRecordDedupeExpired(t *testing.T) {
	svc, q, _ := newTestService(t, nil, 10*time.Second)
	ctx := context.Background()

	req := Request{Status: StatusAccepted, SessionID: "visitor-2"}
	_, err := svc.Record(ctx, req)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	res, err := svc.Record(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	stats, err := q.GetConsentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Accepted)
}

func TestRecordDedupeDisabled(t *testing.T) {
	svc, q, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	req := Request{Status: StatusAccepted, SessionID: "visitor-3"}
	for range 2 {
		_, err := svc.Record(ctx, req)
		require.NoError(t, err)
	}

	stats, err := q.GetConsentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Accepted)
}
