// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package attribution

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"

	"github.com/olegiv/gtm-consent/internal/consent"
)

// ITS keys, in serialization order.
const (
	ITSSource   = "utmcsr"
	ITSMedium   = "utmcmd"
	ITSCampaign = "utmccn"
	ITSContent  = "utmcct"
	ITSTerm     = "utmctr"
	ITSPathname = "pathname"
)

var itsKeys = []string{ITSSource, ITSMedium, ITSCampaign, ITSContent, ITSTerm, ITSPathname}

// searchEngine describes how to read the search term from a referrer.
type searchEngine struct {
	param string
	name  string
}

// searchEngines is keyed by registrable domain. Any host containing
// "google" is handled separately.
var searchEngines = map[string]searchEngine{
	"daum.net":  {param: "q", name: "daum"},
	"eniro.se":  {param: "search_word", name: "eniro"},
	"naver.com": {param: "query", name: "naver"},
	"yahoo.com": {param: "p", name: "yahoo"},
	"msn.com":   {param: "q", name: "msn"},
	"bing.com":  {param: "q", name: "live"},
}

var googleEngine = searchEngine{param: "q", name: "google"}

// TrafficSource is the first-touch snapshot stored in the GTM_ITS cookie.
type TrafficSource map[string]string

// Visit is the input to Build: the landing URL, the site host, the
// referrer, and any legacy __utmz cookie value.
type Visit struct {
	URL        *url.URL
	Host       string
	Referrer   string
	StoredUTMZ string
}

// VisitFromRequest extracts a Visit from r.
func VisitFromRequest(r *http.Request) Visit {
	v := Visit{URL: r.URL, Host: r.Host, Referrer: r.Referer()}
	for _, name := range []string{"__utmz", "__utmzz"} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			v.StoredUTMZ = decodeCookieValue(c.Value)
			break
		}
	}
	return v
}

// Build derives the first-touch traffic source for a visit. Campaign
// parameters win over the referrer, which wins over a legacy __utmz cookie.
func Build(v Visit) TrafficSource {
	path := "/"
	var q url.Values
	if v.URL != nil {
		if v.URL.Path != "" {
			path = v.URL.Path
		}
		q = v.URL.Query()
	}

	ts := TrafficSource{
		ITSSource:   "(direct)",
		ITSMedium:   "(none)",
		ITSCampaign: "(not set)",
		ITSPathname: path,
	}

	thisDomain := registrableDomain(stripPort(v.Host))
	refURL, refHost := parseReferrer(v.Referrer)
	external := refHost != "" && registrableDomain(refHost) != thisDomain

	switch {
	case q.Get("utm_source") != "" || q.Get("gclid") != "" || q.Get("dclid") != "":
		for param, key := range map[string]string{
			"utm_source":   ITSSource,
			"utm_medium":   ITSMedium,
			"utm_campaign": ITSCampaign,
			"utm_content":  ITSContent,
			"utm_term":     ITSTerm,
		} {
			if val := q.Get(param); val != "" {
				ts[key] = val
			}
		}
		if q.Get("gclid") != "" {
			ts[ITSSource], ts[ITSMedium] = "google", "cpc"
		} else if q.Get("dclid") != "" {
			ts[ITSSource], ts[ITSMedium] = "google", "cpm"
		}

	case external:
		if engine, ok := lookupEngine(refHost); ok {
			ts[ITSSource] = engine.name
			ts[ITSMedium] = "organic"
			term := refURL.Query().Get(engine.param)
			if term == "" {
				term = "(not provided)"
			}
			ts[ITSTerm] = term
		} else {
			ts[ITSSource] = refHost
			ts[ITSMedium] = "referral"
		}

	case v.StoredUTMZ != "":
		ts = parseUTMZ(v.StoredUTMZ)
	}

	return ts.clean()
}

func lookupEngine(host string) (searchEngine, bool) {
	if strings.Contains(host, "google") {
		return googleEngine, true
	}
	e, ok := searchEngines[registrableDomain(host)]
	return e, ok
}

// parseUTMZ reads a legacy __utmz value such as
// "1.1700000000.1.1.utmcsr=google|utmccn=(organic)|utmcmd=organic".
func parseUTMZ(raw string) TrafficSource {
	ts := TrafficSource{}
	for _, part := range strings.Split(raw, "|") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if i := strings.LastIndex(k, "."); i >= 0 {
			k = k[i+1:]
		}
		ts[k] = v
	}
	return ts
}

// clean drops keys outside the serialized set and strips characters that
// would break the cookie format.
func (ts TrafficSource) clean() TrafficSource {
	out := TrafficSource{}
	for _, k := range itsKeys {
		if v := cleanITSValue(ts[k]); v != "" {
			out[k] = v
		}
	}
	return out
}

func cleanITSValue(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>'"{}&;|=`, r) {
			return -1
		}
		return r
	}, s)
	return consent.Truncate(strings.TrimSpace(s), consent.MaxFieldLength)
}

// Encode serializes ts as "key=value|key=value" in a fixed key order.
func (ts TrafficSource) Encode() string {
	parts := make([]string, 0, len(itsKeys))
	for _, k := range itsKeys {
		if v, ok := ts[k]; ok && v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "|")
}

// ParseITS decodes a GTM_ITS value. Pairs without a key or value are skipped.
func ParseITS(raw string) TrafficSource {
	ts := TrafficSource{}
	for _, part := range strings.Split(raw, "|") {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || v == "" {
			continue
		}
		ts[k] = v
	}
	return ts
}

func parseReferrer(raw string) (*url.URL, string) {
	if raw == "" {
		return nil, ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ""
	}
	return u, strings.ToLower(u.Hostname())
}

// registrableDomain returns the eTLD+1 of host, or host itself when the
// public suffix list cannot classify it (IP addresses, localhost).
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return ""
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
