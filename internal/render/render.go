// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package render renders the admin and login pages from html/template files.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/olegiv/gtm-consent/internal/session"
)

// Renderer handles template rendering with caching.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	fsys      fs.FS
	sessions  *session.Manager
	isDev     bool
}

// Config holds renderer configuration.
type Config struct {
	TemplatesFS fs.FS
	Sessions    *session.Manager
	// IsDev re-parses templates on every render.
	IsDev bool
}

// New creates a new Renderer with parsed templates.
func New(cfg Config) (*Renderer, error) {
	r := &Renderer{
		fsys:     cfg.TemplatesFS,
		sessions: cfg.Sessions,
		isDev:    cfg.IsDev,
	}

	templates, err := parseTemplates(cfg.TemplatesFS)
	if err != nil {
		return nil, err
	}
	r.templates = templates

	return r, nil
}

// parseTemplates parses all page templates from the filesystem. Admin pages
// are layered on layouts/admin.html, auth pages on layouts/base.html only,
// and public site pages on layouts/site.html.
func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	partials, err := templateFiles(fsys, "partials")
	if err != nil {
		return nil, fmt.Errorf("getting partials: %w", err)
	}

	const baseLayout = "layouts/base.html"
	const adminLayout = "layouts/admin.html"
	const siteLayout = "layouts/site.html"

	groups := []struct {
		dir     string
		layouts []string
	}{
		{"admin", []string{baseLayout, adminLayout}},
		{"auth", []string{baseLayout}},
		{"site", []string{siteLayout}},
	}

	for _, g := range groups {
		pages, err := templateFiles(fsys, g.dir)
		if err != nil {
			return nil, fmt.Errorf("getting %s templates: %w", g.dir, err)
		}

		for _, p := range pages {
			name := g.dir + "/" + strings.TrimSuffix(path.Base(p), ".html")

			files := append([]string{}, g.layouts...)
			files = append(files, partials...)
			files = append(files, p)

			tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(fsys, files...)
			if err != nil {
				return nil, fmt.Errorf("parsing template %s: %w", name, err)
			}
			templates[name] = tmpl
		}
	}

	return templates, nil
}

// templateFiles returns all .html files in a directory.
func templateFiles(fsys fs.FS, dir string) ([]string, error) {
	var files []string

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		// A missing directory just means no templates of that kind.
		return files, nil
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".html") {
			files = append(files, path.Join(dir, entry.Name()))
		}
	}

	return files, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},
		"formatDateTime": func(t time.Time) string {
			return t.Format("Jan 2, 2006 3:04 PM")
		},
		"truncate": func(s string, length int) string {
			if utf8.RuneCountInString(s) <= length {
				return s
			}
			return string([]rune(s)[:length]) + "..."
		},
		"add": func(a, b int) int {
			return a + b
		},
		"sub": func(a, b int) int {
			return a - b
		},
		"seq": func(start, end int) []int {
			var result []int
			for i := start; i <= end; i++ {
				result = append(result, i)
			}
			return result
		},
	}
}

// TemplateData holds data passed to templates.
type TemplateData struct {
	Title       string
	Data        any
	Flash       string
	FlashType   string
	CurrentYear int
	// Admin is the signed-in administrator, empty on the login page.
	Admin string
	// Nav names the active admin menu entry.
	Nav string
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if r.isDev {
		templates, err := parseTemplates(r.fsys)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.templates = templates
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %s not found", name)
	}
	return tmpl, nil
}

// Render renders a template with the given data.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, name string, data TemplateData) error {
	tmpl, err := r.lookup(name)
	if err != nil {
		return err
	}

	data.CurrentYear = time.Now().Year()

	if r.sessions != nil {
		if flash, flashType := r.sessions.PopFlash(req.Context()); flash != "" {
			data.Flash = flash
			data.FlashType = flashType
			if data.FlashType == "" {
				data.FlashType = "info"
			}
		}
		if data.Admin == "" {
			data.Admin = r.sessions.AdminUser(req.Context())
		}
	}

	// Render to buffer first to catch errors
	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, "base", data); err != nil {
		return fmt.Errorf("executing template %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = buf.WriteTo(w)
	return err
}

// SetFlash sets a flash message in the session.
func (r *Renderer) SetFlash(req *http.Request, message, flashType string) {
	if r.sessions != nil {
		r.sessions.SetFlash(req.Context(), message, flashType)
	}
}
