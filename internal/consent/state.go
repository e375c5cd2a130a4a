// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package consent

import (
	"net/http"
	"time"
)

// Decision cookie names. At most one is ever set to CookieValue.
const (
	CookieGranted  = "gtm_consent_granted"
	CookieDeclined = "gtm_consent_declined"
	CookieNoAction = "gtm_consent_no_action"
	CookieValue    = "yes"
)

// DefaultExpiryDays is used when CookieOptions.ExpiryDays is not positive.
const DefaultExpiryDays = 90

// State is the visitor's consent state as carried by the decision cookies.
type State int

const (
	StateUnset State = iota
	StateAccepted
	StateDeclined
	StateNoAction
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateDeclined:
		return "declined"
	case StateNoAction:
		return "no_action"
	}
	return "unset"
}

// Decided reports whether the visitor has made an explicit or implicit choice.
func (s State) Decided() bool {
	return s != StateUnset
}

// Granted reports whether analytics may be loaded.
func (s State) Granted() bool {
	return s == StateAccepted
}

// cookieName returns the decision cookie that represents s, or "" for unset.
func (s State) cookieName() string {
	switch s {
	case StateAccepted:
		return CookieGranted
	case StateDeclined:
		return CookieDeclined
	case StateNoAction:
		return CookieNoAction
	}
	return ""
}

var decisionCookies = []string{CookieGranted, CookieDeclined, CookieNoAction}

// ReadState derives the consent state from the request cookies.
// A request carrying more than one decision cookie resolves with
// precedence granted, declined, no_action.
func ReadState(r *http.Request) State {
	for _, st := range []State{StateAccepted, StateDeclined, StateNoAction} {
		if c, err := r.Cookie(st.cookieName()); err == nil && c.Value == CookieValue {
			return st
		}
	}
	return StateUnset
}

// CookieOptions controls the attributes of written decision cookies.
type CookieOptions struct {
	ExpiryDays int
	Secure     bool
}

// WriteState sets the decision cookies on w so that exactly st holds.
// Every other decision cookie is expired before the target is written.
func WriteState(w http.ResponseWriter, st State, opts CookieOptions) {
	target := st.cookieName()
	for _, name := range decisionCookies {
		if name == target {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			Secure:   opts.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
	if target == "" {
		return
	}

	days := opts.ExpiryDays
	if days <= 0 {
		days = DefaultExpiryDays
	}
	http.SetCookie(w, &http.Cookie{
		Name:     target,
		Value:    CookieValue,
		Path:     "/",
		MaxAge:   days * 24 * 60 * 60,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
