// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package consent

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxFieldLength is the rune limit for a sanitized attribution field.
const MaxFieldLength = 255

var (
	strictPolicy = bluemonday.StrictPolicy()
	gtmIDPattern = regexp.MustCompile(`^(GTM-[A-Z0-9]+|G-[A-Z0-9]+)$`)
)

const strippedChars = `<>'"{}()&=;`

// SanitizeField removes markup, the characters <>'"{}()&=; and control
// characters, trims whitespace, and caps the result at MaxFieldLength runes.
func SanitizeField(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(strippedChars, r) {
			return -1
		}
		return r
	}, s)
	return Truncate(strings.TrimSpace(s), MaxFieldLength)
}

// Truncate caps s at n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// ReferrerHost reduces a referrer value to its hostname. Values that are
// already bare hostnames are returned sanitized, site-relative paths keep
// the path without query or fragment, and unparseable values yield "".
func ReferrerHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return SanitizeField(raw)
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "http:" + raw
	case !strings.Contains(raw, "://"):
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return SanitizeField(strings.ToLower(u.Hostname()))
}

// ValidGTMID reports whether id is a GTM container or GA4 measurement ID.
func ValidGTMID(id string) bool {
	return gtmIDPattern.MatchString(id)
}

// Attribution is the per-event attribution bundle stored with a consent log row.
type Attribution struct {
	UtmSource   string
	UtmMedium   string
	UtmCampaign string
	ReferrerURL string
}

// Sanitized returns a copy with every field sanitized and the referrer
// reduced to a hostname.
func (a Attribution) Sanitized() Attribution {
	return Attribution{
		UtmSource:   SanitizeField(a.UtmSource),
		UtmMedium:   SanitizeField(a.UtmMedium),
		UtmCampaign: SanitizeField(a.UtmCampaign),
		ReferrerURL: ReferrerHost(a.ReferrerURL),
	}
}
