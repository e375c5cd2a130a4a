// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package widget renders the consent notice and the head snippet that
// either loads Google tags (consent granted) or sets denied defaults.
package widget

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/settings"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Default mount points for the consent API and widget assets.
const (
	DefaultEndpoint  = "/consent"
	DefaultAssetBase = "/static/dist"
)

// Page carries the per-request inputs for rendering.
type Page struct {
	Settings settings.Settings
	State    consent.State
	// Token is the visitor's consent request token.
	Token string
}

// Renderer renders widget markup.
type Renderer struct {
	tmpl      *template.Template
	md        goldmark.Markdown
	policy    *bluemonday.Policy
	endpoint  string
	assetBase string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithEndpoint sets the base path of the consent API.
func WithEndpoint(path string) Option {
	return func(r *Renderer) { r.endpoint = path }
}

// WithAssetBase sets where consent.js and consent.css are served from.
func WithAssetBase(path string) Option {
	return func(r *Renderer) { r.assetBase = path }
}

// New parses the widget templates.
func New(opts ...Option) (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing widget templates: %w", err)
	}
	r := &Renderer{
		tmpl:      tmpl,
		md:        goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe())),
		policy:    bluemonday.UGCPolicy(),
		endpoint:  DefaultEndpoint,
		assetBase: DefaultAssetBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// clientConfig is handed to consent.js.
type clientConfig struct {
	Endpoint       string `json:"endpoint"`
	Token          string `json:"nonce"`
	GTMID          string `json:"gtm_id"`
	CookieDays     int    `json:"cookie_days"`
	AutoAccept     bool   `json:"auto_accept"`
	AcceptLabel    string `json:"accept_label"`
	DeclineLabel   string `json:"decline_label"`
	AcceptMessage  string `json:"accept_message"`
	DeclineMessage string `json:"decline_message"`
}

type headData struct {
	GTMID     string
	Granted   bool
	CustomCSS template.CSS
	CustomJS  template.JS
	AssetBase string
}

type bodyData struct {
	S          settings.Settings
	Visibility Visibility
	NoticeText template.HTML
	Config     clientConfig
	AssetBase  string
}

// Head returns the markup for the document head. It is empty while no
// GTM ID is configured.
func (r *Renderer) Head(p Page) (template.HTML, error) {
	s := p.Settings
	if !s.Active() {
		return "", nil
	}
	return r.execute("head", headData{
		GTMID:   s.GTMID,
		Granted: p.State.Granted(),
		// Admin-supplied code is output as entered.
		CustomCSS: template.CSS(s.CustomCSS),
		CustomJS:  template.JS(s.CustomJS),
		AssetBase: r.assetBase,
	})
}

// Body returns the notice, the minimized icon and the script include.
func (r *Renderer) Body(p Page) (template.HTML, error) {
	s := p.Settings
	if !s.Active() {
		return "", nil
	}
	text, err := r.NoticeText(s.ConsentText)
	if err != nil {
		return "", err
	}
	return r.execute("body", bodyData{
		S:          s,
		Visibility: VisibilityFor(p.State, s),
		NoticeText: text,
		AssetBase:  r.assetBase,
		Config: clientConfig{
			Endpoint:       r.endpoint,
			Token:          p.Token,
			GTMID:          s.GTMID,
			CookieDays:     s.CookieExpiry,
			AutoAccept:     s.AutoAccept,
			AcceptLabel:    s.AcceptBtnLabel,
			DeclineLabel:   s.DeclineBtnLabel,
			AcceptMessage:  s.AcceptMessage,
			DeclineMessage: s.DeclineMessage,
		},
	})
}

// NoticeText renders the consent text as Markdown and sanitizes the result.
func (r *Renderer) NoticeText(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering notice text: %w", err)
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes())), nil
}

func (r *Renderer) execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("executing widget template %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}
