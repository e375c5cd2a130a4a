// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package attribution captures campaign parameters and the referrer into
// first-party cookies and resolves them into the attribution bundle stored
// with each consent event.
package attribution

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/olegiv/gtm-consent/internal/consent"
)

// Cookie names written by Capture.
const (
	CookieUtmSource   = "lle_utm_source"
	CookieUtmMedium   = "lle_utm_medium"
	CookieUtmCampaign = "lle_utm_campaign"
	CookieReferrer    = "lle_referrer_url"
	CookieITS         = "GTM_ITS"
)

const (
	attributionMaxAge = 90 * 24 * time.Hour
	itsMaxAge         = 24 * time.Hour
)

var utmCookies = []struct{ param, cookie string }{
	{"utm_source", CookieUtmSource},
	{"utm_medium", CookieUtmMedium},
	{"utm_campaign", CookieUtmCampaign},
}

// CaptureConfig configures the Capture middleware.
type CaptureConfig struct {
	// Secure marks written cookies Secure. Disable only for plain-HTTP development.
	Secure bool

	// TrackInitialSource reports whether the GTM_ITS cookie should be written.
	TrackInitialSource func() bool

	// SkipPrefixes lists path prefixes the middleware ignores.
	SkipPrefixes []string
}

// Capture writes the lle_* attribution cookies and, when enabled, the
// first-touch GTM_ITS cookie on page requests.
func Capture(cfg CaptureConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (r.Method == http.MethodGet || r.Method == http.MethodHead) && !cfg.skip(r.URL.Path) {
				capture(w, r, cfg)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (cfg CaptureConfig) skip(path string) bool {
	for _, p := range cfg.SkipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func capture(w http.ResponseWriter, r *http.Request, cfg CaptureConfig) {
	q := r.URL.Query()
	for _, u := range utmCookies {
		if v := consent.SanitizeField(q.Get(u.param)); v != "" {
			setCookie(w, u.cookie, v, attributionMaxAge, cfg.Secure)
		}
	}

	if _, refHost := parseReferrer(r.Referer()); refHost != "" && refHost != strings.ToLower(stripPort(r.Host)) {
		if host := consent.SanitizeField(refHost); host != "" {
			setCookie(w, CookieReferrer, host, attributionMaxAge, cfg.Secure)
		}
	}

	if cfg.TrackInitialSource != nil && cfg.TrackInitialSource() {
		if _, err := r.Cookie(CookieITS); err != nil {
			if its := Build(VisitFromRequest(r)).Encode(); its != "" {
				setCookie(w, CookieITS, its, itsMaxAge, cfg.Secure)
			}
		}
	}
}

func setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    url.PathEscape(value),
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// decodeCookieValue reverses the percent-encoding used by Capture and by
// the client script's encodeURIComponent. Undecodable values are returned as is.
func decodeCookieValue(v string) string {
	if d, err := url.PathUnescape(v); err == nil {
		return d
	}
	return v
}
