// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/cache"
)

func TestPublicIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"100.64.0.5", true},
		{"::1", true},
		{"fe80::1", true},
		{"0.0.0.0", true},
		{"not-an-ip", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := publicIP(tt.ip)
		if got := errors.Is(err, ErrPrivateAddress); got != tt.private {
			t.Errorf("publicIP(%q) private = %v, want %v", tt.ip, got, tt.private)
		}
	}
}

func TestIPAPI_Success(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","country":"Netherlands","regionName":"North Holland","city":"Amsterdam"}`)
	}))
	defer srv.Close()

	loc, err := NewIPAPI(srv.URL+"/json/", time.Second).Locate(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "/json/8.8.8.8", gotPath)
	assert.Equal(t, Location{City: "Amsterdam", State: "North Holland", Country: "Netherlands"}, loc)
}

func TestIPAPI_FailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"fail","message":"reserved range"}`)
	}))
	defer srv.Close()

	_, err := NewIPAPI(srv.URL, time.Second).Locate(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestIPAPI_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewIPAPI(srv.URL, time.Second).Locate(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestIPAPI_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>`)
	}))
	defer srv.Close()

	_, err := NewIPAPI(srv.URL, time.Second).Locate(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestIPAPI_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewIPAPI(srv.URL, 5*time.Second).Locate(ctx, "8.8.8.8")
	assert.Error(t, err)
}

func TestIPAPI_SkipsPrivate(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewIPAPI(srv.URL, time.Second).Locate(context.Background(), "192.168.0.10")
	assert.ErrorIs(t, err, ErrPrivateAddress)
	assert.False(t, called, "private address must not reach the provider")
}

func TestCached(t *testing.T) {
	var calls atomic.Int32
	inner := LocatorFunc(func(ctx context.Context, ip string) (Location, error) {
		calls.Add(1)
		return Location{City: "Berlin", Country: "Germany"}, nil
	})

	mc := cache.NewMemoryCache(cache.MemoryOptions{DefaultTTL: time.Hour})
	defer func() { _ = mc.Close() }()

	var hits int
	c := NewCached(inner, mc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil))).
		OnHit(func() { hits++ })

	for range 3 {
		loc, err := c.Locate(context.Background(), "8.8.4.4")
		require.NoError(t, err)
		assert.Equal(t, "Berlin", loc.City)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, hits)
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	inner := LocatorFunc(func(ctx context.Context, ip string) (Location, error) {
		calls.Add(1)
		return Location{}, ErrLookupFailed
	})

	mc := cache.NewMemoryCache(cache.MemoryOptions{})
	defer func() { _ = mc.Close() }()

	c := NewCached(inner, mc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for range 2 {
		_, err := c.Locate(context.Background(), "8.8.4.4")
		assert.ErrorIs(t, err, ErrLookupFailed)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestChain(t *testing.T) {
	failing := LocatorFunc(func(ctx context.Context, ip string) (Location, error) {
		return Location{}, ErrLookupFailed
	})
	ok := LocatorFunc(func(ctx context.Context, ip string) (Location, error) {
		return Location{Country: "France"}, nil
	})

	loc, err := Chain{failing, ok}.Locate(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "France", loc.Country)

	_, err = Chain{failing, failing}.Locate(context.Background(), "1.1.1.1")
	assert.ErrorIs(t, err, ErrLookupFailed)

	_, err = Chain{}.Locate(context.Background(), "1.1.1.1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestOpenMaxMind_Missing(t *testing.T) {
	_, err := OpenMaxMind(filepath.Join(t.TempDir(), "GeoLite2-City.mmdb"))
	assert.Error(t, err)
}
