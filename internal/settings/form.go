// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package settings

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/olegiv/gtm-consent/internal/consent"
)

var (
	textPolicy     = bluemonday.StrictPolicy()
	richTextPolicy = bluemonday.UGCPolicy()
	classPattern   = regexp.MustCompile(`[^A-Za-z0-9_\- ]+`)
	spaceRun       = regexp.MustCompile(`[ \t]+`)
)

// ApplyForm returns prev updated with the submitted form values, plus
// user-facing warnings for values that were rejected. Text fields missing
// from the form keep their previous value; checkboxes missing from the
// form are off.
func ApplyForm(prev Settings, form url.Values) (Settings, []string) {
	s := prev
	var warnings []string

	if form.Has(KeyGTMID) {
		id := strings.ToUpper(strings.TrimSpace(form.Get(KeyGTMID)))
		switch {
		case id == "":
			s.GTMID = ""
		case consent.ValidGTMID(id):
			s.GTMID = id
		default:
			warnings = append(warnings, ErrInvalidGTMID.Error())
		}
	}

	text := func(key string, dst *string) {
		if form.Has(key) {
			*dst = sanitizeText(form.Get(key))
		}
	}
	text(KeyConsentTitle, &s.ConsentTitle)
	text(KeyTermsLabel, &s.TermsLabel)
	text(KeyPrivacyLabel, &s.PrivacyLabel)
	text(KeyAcceptBtnLabel, &s.AcceptBtnLabel)
	text(KeyDeclineBtnLabel, &s.DeclineBtnLabel)

	textarea := func(key string, dst *string) {
		if form.Has(key) {
			*dst = sanitizeTextarea(form.Get(key))
		}
	}
	textarea(KeyAcceptMessage, &s.AcceptMessage)
	textarea(KeyDeclineMessage, &s.DeclineMessage)

	if form.Has(KeyConsentText) {
		s.ConsentText = strings.TrimSpace(richTextPolicy.Sanitize(form.Get(KeyConsentText)))
	}

	if form.Has(KeyCookieExpiry) {
		n, err := strconv.Atoi(strings.TrimSpace(form.Get(KeyCookieExpiry)))
		if err != nil || n <= 0 {
			warnings = append(warnings, "Cookie expiry must be a positive number of days; previous value kept.")
		} else {
			s.CookieExpiry = n
		}
	}

	if form.Has(KeyTermsURL) {
		s.TermsURL = sanitizeURL(form.Get(KeyTermsURL))
	}
	if form.Has(KeyPrivacyURL) {
		s.PrivacyURL = sanitizeURL(form.Get(KeyPrivacyURL))
	}

	if form.Has(KeyAcceptBtnClass) {
		s.AcceptBtnClass = sanitizeClassList(form.Get(KeyAcceptBtnClass))
	}
	if form.Has(KeyDeclineBtnClass) {
		s.DeclineBtnClass = sanitizeClassList(form.Get(KeyDeclineBtnClass))
	}

	if form.Has(KeyNoticePosition) {
		s.NoticePosition, _ = parseNoticePosition(form.Get(KeyNoticePosition))
	}
	if form.Has(KeyIconPosition) {
		s.IconPosition, _ = parseIconPosition(form.Get(KeyIconPosition))
	}

	s.AutoOpen = parseBool(form.Get(KeyAutoOpen))
	s.AutoAccept = parseBool(form.Get(KeyAutoAccept))
	s.EnableInitialTrafficSource = parseBool(form.Get(KeyEnableInitialTrafficSource))

	if form.Has(KeyCustomCSS) {
		s.CustomCSS = stripTags(form.Get(KeyCustomCSS))
	}
	// Custom JS is operator-supplied and stored verbatim.
	if form.Has(KeyCustomJS) {
		s.CustomJS = form.Get(KeyCustomJS)
	}

	return s, warnings
}

// stripTags removes HTML tags and leaves the text content as typed.
func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// sanitizeText is a single-line text field: tags and line breaks
// removed, whitespace collapsed.
func sanitizeText(s string) string {
	s = stripTags(s)
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// sanitizeTextarea keeps line breaks.
func sanitizeTextarea(s string) string {
	lines := strings.Split(strings.ReplaceAll(stripTags(s), "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// sanitizeURL accepts http(s) URLs, site-relative paths, and "#".
// Anything else is cleared.
func sanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "#" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ""
		}
		return u.String()
	case "":
		if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
			return u.String()
		}
	}
	return ""
}

func sanitizeClassList(s string) string {
	return strings.Join(strings.Fields(classPattern.ReplaceAllString(s, " ")), " ")
}
