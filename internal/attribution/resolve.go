// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package attribution

import (
	"net/http"

	"github.com/olegiv/gtm-consent/internal/consent"
)

// Resolve builds the attribution bundle for a consent request. For each
// field the first non-empty source wins: the posted form field (plain or
// lle_-prefixed name), the lle_* cookie, then the GTM_ITS snapshot.
// Each candidate is sanitized first, so a value that sanitizes to
// nothing falls through to the next source.
func Resolve(r *http.Request) consent.Attribution {
	its := readITS(r)
	return consent.Attribution{
		UtmSource:   resolveField(r, "utm_source", CookieUtmSource, its[ITSSource], consent.SanitizeField),
		UtmMedium:   resolveField(r, "utm_medium", CookieUtmMedium, its[ITSMedium], consent.SanitizeField),
		UtmCampaign: resolveField(r, "utm_campaign", CookieUtmCampaign, its[ITSCampaign], consent.SanitizeField),
		ReferrerURL: resolveField(r, "referrer_url", CookieReferrer, its[ITSPathname], consent.ReferrerHost),
	}
}

func resolveField(r *http.Request, field, cookie, fallback string, clean func(string) string) string {
	for _, name := range []string{field, "lle_" + field} {
		if v := clean(r.PostFormValue(name)); v != "" {
			return v
		}
	}
	if c, err := r.Cookie(cookie); err == nil {
		if v := clean(decodeCookieValue(c.Value)); v != "" {
			return v
		}
	}
	return clean(fallback)
}

func readITS(r *http.Request) TrafficSource {
	c, err := r.Cookie(CookieITS)
	if err != nil {
		return TrafficSource{}
	}
	return ParseITS(decodeCookieValue(c.Value))
}
