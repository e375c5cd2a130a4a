// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package settings holds the consent notice configuration as an immutable
// value, its defaults, form validation, and a provider that persists it.
package settings

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidGTMID is reported when a submitted GTM/GA ID has the wrong format.
var ErrInvalidGTMID = errors.New("invalid GTM/GA ID format, expected GTM-XXXXXXX or G-XXXXXXXXX")

// Setting keys as stored in the settings table.
const (
	KeyGTMID                      = "gtag_id"
	KeyConsentTitle               = "consent_title"
	KeyConsentText                = "consent_text"
	KeyCookieExpiry               = "cookie_expiry"
	KeyTermsURL                   = "terms_url"
	KeyPrivacyURL                 = "privacy_url"
	KeyTermsLabel                 = "terms_label"
	KeyPrivacyLabel               = "privacy_label"
	KeyAcceptMessage              = "accept_message"
	KeyDeclineMessage             = "decline_message"
	KeyAcceptBtnLabel             = "accept_btn_label"
	KeyDeclineBtnLabel            = "decline_btn_label"
	KeyAcceptBtnClass             = "accept_btn_class"
	KeyDeclineBtnClass            = "decline_btn_class"
	KeyNoticePosition             = "notice_position"
	KeyIconPosition               = "icon_position"
	KeyAutoOpen                   = "auto_open"
	KeyAutoAccept                 = "auto_accept"
	KeyCustomCSS                  = "custom_css"
	KeyCustomJS                   = "custom_js"
	KeyEnableInitialTrafficSource = "enable_initial_traffic_source"
)

// Keys lists every setting key in form order.
var Keys = []string{
	KeyGTMID, KeyConsentTitle, KeyConsentText, KeyCookieExpiry,
	KeyTermsURL, KeyPrivacyURL, KeyTermsLabel, KeyPrivacyLabel,
	KeyAcceptMessage, KeyDeclineMessage,
	KeyAcceptBtnLabel, KeyDeclineBtnLabel, KeyAcceptBtnClass, KeyDeclineBtnClass,
	KeyNoticePosition, KeyIconPosition, KeyAutoOpen, KeyAutoAccept,
	KeyCustomCSS, KeyCustomJS, KeyEnableInitialTrafficSource,
}

// NoticePosition places the expanded notice.
type NoticePosition string

const (
	NoticeBottomLeft  NoticePosition = "bottom_left"
	NoticeBottomRight NoticePosition = "bottom_right"
	NoticeCenter      NoticePosition = "center"
)

// IconPosition places the minimized icon.
type IconPosition string

const (
	IconBottomLeft  IconPosition = "bottom_left"
	IconBottomRight IconPosition = "bottom_right"
	IconHide        IconPosition = "hide"
)

func parseNoticePosition(s string) (NoticePosition, bool) {
	switch p := NoticePosition(s); p {
	case NoticeBottomLeft, NoticeBottomRight, NoticeCenter:
		return p, true
	}
	return NoticeBottomRight, false
}

func parseIconPosition(s string) (IconPosition, bool) {
	switch p := IconPosition(s); p {
	case IconBottomLeft, IconBottomRight, IconHide:
		return p, true
	}
	return IconBottomRight, false
}

// Settings is the notice configuration. Values are immutable once
// published by a Provider; copy and modify to change.
type Settings struct {
	GTMID           string
	ConsentTitle    string
	ConsentText     string
	CookieExpiry    int
	TermsURL        string
	PrivacyURL      string
	TermsLabel      string
	PrivacyLabel    string
	AcceptMessage   string
	DeclineMessage  string
	AcceptBtnLabel  string
	DeclineBtnLabel string
	AcceptBtnClass  string
	DeclineBtnClass string
	NoticePosition  NoticePosition
	IconPosition    IconPosition
	AutoOpen        bool
	AutoAccept      bool
	CustomCSS       string
	CustomJS        string

	EnableInitialTrafficSource bool
}

// Defaults returns the settings written on first start.
func Defaults() Settings {
	return Settings{
		ConsentTitle:    "This website uses cookies",
		ConsentText:     "We use cookies to improve your experience. By continuing to visit this site you agree to our use of cookies.",
		CookieExpiry:    90,
		TermsURL:        "#",
		PrivacyURL:      "#",
		TermsLabel:      "Terms of use",
		PrivacyLabel:    "Privacy Policy",
		AcceptMessage:   "Thank you for accepting cookies. We will now be able to personalize your experience and analyze web traffic to improve our site.",
		DeclineMessage:  "We understand your choice, but by declining non-essential cookies, you may miss out on personalized content and certain features designed to enhance your experience. If you change your mind, you can always enable cookies and enjoy a more tailored browsing experience.",
		AcceptBtnLabel:  "Accept",
		DeclineBtnLabel: "Decline",
		NoticePosition:  NoticeBottomRight,
		IconPosition:    IconBottomRight,
	}
}

// Active reports whether the widget and consent API should run.
func (s Settings) Active() bool {
	return s.GTMID != ""
}

// HasTermsLink reports whether the terms link should be rendered.
func (s Settings) HasTermsLink() bool {
	return s.TermsURL != "" && s.TermsURL != "#"
}

// HasPrivacyLink reports whether the privacy link should be rendered.
func (s Settings) HasPrivacyLink() bool {
	return s.PrivacyURL != "" && s.PrivacyURL != "#"
}

// ToMap serializes s into key/value rows.
func (s Settings) ToMap() map[string]string {
	return map[string]string{
		KeyGTMID:                      s.GTMID,
		KeyConsentTitle:               s.ConsentTitle,
		KeyConsentText:                s.ConsentText,
		KeyCookieExpiry:               strconv.Itoa(s.CookieExpiry),
		KeyTermsURL:                   s.TermsURL,
		KeyPrivacyURL:                 s.PrivacyURL,
		KeyTermsLabel:                 s.TermsLabel,
		KeyPrivacyLabel:               s.PrivacyLabel,
		KeyAcceptMessage:              s.AcceptMessage,
		KeyDeclineMessage:             s.DeclineMessage,
		KeyAcceptBtnLabel:             s.AcceptBtnLabel,
		KeyDeclineBtnLabel:            s.DeclineBtnLabel,
		KeyAcceptBtnClass:             s.AcceptBtnClass,
		KeyDeclineBtnClass:            s.DeclineBtnClass,
		KeyNoticePosition:             string(s.NoticePosition),
		KeyIconPosition:               string(s.IconPosition),
		KeyAutoOpen:                   formatBool(s.AutoOpen),
		KeyAutoAccept:                 formatBool(s.AutoAccept),
		KeyCustomCSS:                  s.CustomCSS,
		KeyCustomJS:                   s.CustomJS,
		KeyEnableInitialTrafficSource: formatBool(s.EnableInitialTrafficSource),
	}
}

// FromMap builds Settings from stored rows. Missing or malformed values
// fall back to defaults.
func FromMap(m map[string]string) Settings {
	s := Defaults()
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			*dst = v
		}
	}

	str(KeyGTMID, &s.GTMID)
	str(KeyConsentTitle, &s.ConsentTitle)
	str(KeyConsentText, &s.ConsentText)
	str(KeyTermsURL, &s.TermsURL)
	str(KeyPrivacyURL, &s.PrivacyURL)
	str(KeyTermsLabel, &s.TermsLabel)
	str(KeyPrivacyLabel, &s.PrivacyLabel)
	str(KeyAcceptMessage, &s.AcceptMessage)
	str(KeyDeclineMessage, &s.DeclineMessage)
	str(KeyAcceptBtnLabel, &s.AcceptBtnLabel)
	str(KeyDeclineBtnLabel, &s.DeclineBtnLabel)
	str(KeyAcceptBtnClass, &s.AcceptBtnClass)
	str(KeyDeclineBtnClass, &s.DeclineBtnClass)
	str(KeyCustomCSS, &s.CustomCSS)
	str(KeyCustomJS, &s.CustomJS)

	if n, err := strconv.Atoi(strings.TrimSpace(m[KeyCookieExpiry])); err == nil && n > 0 {
		s.CookieExpiry = n
	}
	if p, ok := parseNoticePosition(m[KeyNoticePosition]); ok {
		s.NoticePosition = p
	}
	if p, ok := parseIconPosition(m[KeyIconPosition]); ok {
		s.IconPosition = p
	}
	s.AutoOpen = parseBool(m[KeyAutoOpen])
	s.AutoAccept = parseBool(m[KeyAutoAccept])
	s.EnableInitialTrafficSource = parseBool(m[KeyEnableInitialTrafficSource])
	return s
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// parseBool accepts the values WordPress and HTML checkboxes produce.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
