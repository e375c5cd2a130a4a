// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package widget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/settings"
)

func activeSettings() settings.Settings {
	s := settings.Defaults()
	s.GTMID = "G-TEST123"
	return s
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	return r
}

func TestInactiveRendersNothing(t *testing.T) {
	r := newRenderer(t)
	p := Page{Settings: settings.Defaults(), State: consent.StateAccepted}

	head, err := r.Head(p)
	require.NoError(t, err)
	assert.Empty(t, head)

	body, err := r.Body(p)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestHeadDeniedDefaults(t *testing.T) {
	r := newRenderer(t)
	for _, st := range []consent.State{consent.StateUnset, consent.StateDeclined, consent.StateNoAction} {
		head, err := r.Head(Page{Settings: activeSettings(), State: st})
		require.NoError(t, err)

		h := string(head)
		assert.Contains(t, h, `gtag("consent", "default"`, st.String())
		assert.Equal(t, 7, strings.Count(h, `: "denied"`), st.String())
		assert.NotContains(t, h, "googletagmanager.com/gtag/js", st.String())
	}
}

func TestHeadGrantedLoadsTag(t *testing.T) {
	r := newRenderer(t)
	head, err := r.Head(Page{Settings: activeSettings(), State: consent.StateAccepted})
	require.NoError(t, err)

	h := string(head)
	assert.Contains(t, h, `<script async src="https://www.googletagmanager.com/gtag/js?id=G-TEST123"></script>`)
	assert.Contains(t, h, `gtag("config", "G-TEST123");`)
	assert.Equal(t, 7, strings.Count(h, `: "granted"`))
	assert.NotContains(t, h, `"denied"`)

	// Tags must see the consent state before the first hit.
	consentAt := strings.Index(h, `gtag("consent", "default"`)
	require.GreaterOrEqual(t, consentAt, 0)
	assert.Less(t, consentAt, strings.Index(h, `gtag("js"`))
	assert.Less(t, consentAt, strings.Index(h, `gtag("config"`))
	assert.Less(t, consentAt, strings.Index(h, "googletagmanager.com/gtag/js"))
}

func TestHeadCustomCode(t *testing.T) {
	r := newRenderer(t)
	s := activeSettings()
	s.CustomCSS = "#gtm-consent-notice { max-width: 420px; }"
	s.CustomJS = "window.consentLoaded = true;"

	head, err := r.Head(Page{Settings: s})
	require.NoError(t, err)

	h := string(head)
	assert.Contains(t, h, `<style id="cookie-consent-for-google-tag-manager-custom-css">#gtm-consent-notice { max-width: 420px; }</style>`)
	assert.Contains(t, h, `<script id="cookie-consent-for-google-tag-manager-custom-js">window.consentLoaded = true;</script>`)

	head, err = r.Head(Page{Settings: activeSettings()})
	require.NoError(t, err)
	assert.NotContains(t, string(head), "custom-css")
	assert.NotContains(t, string(head), "custom-js")
}

func TestBodyMarkup(t *testing.T) {
	r := newRenderer(t)
	s := activeSettings()
	s.AutoOpen = true
	s.NoticePosition = settings.NoticeCenter

	body, err := r.Body(Page{Settings: s, Token: "tok123"})
	require.NoError(t, err)

	b := string(body)
	for _, id := range []string{"gtm-consent-notice", "gtm-consent-close", "gtm-consent-yes", "gtm-consent-no", "gtm-consent-message", "gtm-consent-minimized"} {
		assert.Contains(t, b, `id="`+id+`"`)
	}
	assert.Contains(t, b, `data-notice-position="center"`)
	assert.Contains(t, b, `data-auto-open="1"`)
	assert.Contains(t, b, `"nonce":"tok123"`)
	assert.Contains(t, b, `"gtm_id":"G-TEST123"`)
	assert.Contains(t, b, `"cookie_days":90`)
	assert.Contains(t, b, `src="/static/dist/consent.js"`)

	// Default URLs are "#", so no links are rendered.
	assert.NotContains(t, b, `class="consent-link"`)
	assert.NotContains(t, b, "consent-separator")
}

func TestBodyLinks(t *testing.T) {
	r := newRenderer(t)

	s := activeSettings()
	s.TermsURL = "https://example.com/terms"
	body, err := r.Body(Page{Settings: s})
	require.NoError(t, err)
	assert.Contains(t, string(body), `<a href="https://example.com/terms" class="consent-link"`)
	assert.NotContains(t, string(body), "consent-separator")

	s.PrivacyURL = "/privacy"
	body, err = r.Body(Page{Settings: s})
	require.NoError(t, err)
	assert.Contains(t, string(body), `<span class="consent-separator">|</span>`)
	assert.Contains(t, string(body), `<a href="/privacy" class="consent-link"`)
}

func TestBodyEscapesSettings(t *testing.T) {
	r := newRenderer(t)
	s := activeSettings()
	s.ConsentTitle = `<img src=x onerror=alert(1)>`
	s.AcceptMessage = `</script><script>alert(1)</script>`

	body, err := r.Body(Page{Settings: s})
	require.NoError(t, err)

	b := string(body)
	assert.NotContains(t, b, "<img src=x")
	assert.NotContains(t, b, "</script><script>alert")
}

func TestBodyIconHidden(t *testing.T) {
	r := newRenderer(t)
	s := activeSettings()
	s.IconPosition = settings.IconHide

	body, err := r.Body(Page{Settings: s, State: consent.StateDeclined})
	require.NoError(t, err)
	assert.NotContains(t, string(body), "gtm-consent-minimized")
}

func TestNoticeText(t *testing.T) {
	r := newRenderer(t)

	out, err := r.NoticeText("We use **cookies**. See [policy](https://example.com/p).")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<strong>cookies</strong>")
	assert.Contains(t, string(out), `href="https://example.com/p"`)

	out, err = r.NoticeText(`Hello <script>alert(1)</script><a href="javascript:alert(1)">x</a>`)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script")
	assert.NotContains(t, string(out), "javascript:")
}

func TestVisibilityFor(t *testing.T) {
	base := activeSettings()
	autoOpen := base
	autoOpen.AutoOpen = true
	autoAccept := base
	autoAccept.AutoAccept = true
	autoAccept.AutoOpen = true
	hiddenIcon := base
	hiddenIcon.IconPosition = settings.IconHide

	tests := []struct {
		name string
		st   consent.State
		s    settings.Settings
		want Visibility
	}{
		{"unset shows icon", consent.StateUnset, base, Visibility{Icon: true}},
		{"unset auto-open shows notice", consent.StateUnset, autoOpen, Visibility{Notice: true}},
		{"decided hides notice", consent.StateDeclined, autoOpen, Visibility{Icon: true}},
		{"no action counts as decided", consent.StateNoAction, autoOpen, Visibility{Icon: true}},
		{"auto-accept hides both", consent.StateUnset, autoAccept, Visibility{}},
		{"auto-accept after decision", consent.StateAccepted, autoAccept, Visibility{Icon: true}},
		{"hidden icon", consent.StateAccepted, hiddenIcon, Visibility{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibilityFor(tt.st, tt.s))
		})
	}
}
