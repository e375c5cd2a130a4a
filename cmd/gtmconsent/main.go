// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"github.com/olegiv/gtm-consent/internal/attribution"
	"github.com/olegiv/gtm-consent/internal/auth"
	"github.com/olegiv/gtm-consent/internal/cache"
	"github.com/olegiv/gtm-consent/internal/config"
	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/geoip"
	"github.com/olegiv/gtm-consent/internal/handler"
	"github.com/olegiv/gtm-consent/internal/importer"
	"github.com/olegiv/gtm-consent/internal/logging"
	"github.com/olegiv/gtm-consent/internal/metrics"
	"github.com/olegiv/gtm-consent/internal/middleware"
	"github.com/olegiv/gtm-consent/internal/render"
	"github.com/olegiv/gtm-consent/internal/scheduler"
	"github.com/olegiv/gtm-consent/internal/session"
	"github.com/olegiv/gtm-consent/internal/settings"
	"github.com/olegiv/gtm-consent/internal/store"
	"github.com/olegiv/gtm-consent/internal/widget"
	"github.com/olegiv/gtm-consent/web"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

type options struct {
	hashPassword bool
	uninstall    bool
	yes          bool
	importDSN    string
	wpPrefix     string
	importForce  bool
	skipSettings bool
}

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	var opts options
	flag.BoolVar(&opts.hashPassword, "hash-password", false, "Read a password from stdin and print its argon2id hash")
	flag.BoolVar(&opts.uninstall, "uninstall", false, "Delete all settings and drop the consent tables")
	flag.BoolVar(&opts.yes, "yes", false, "Do not ask for confirmation (with -uninstall)")
	flag.StringVar(&opts.importDSN, "import-wordpress", "", "Import consent logs and settings from a WordPress MySQL DSN")
	flag.StringVar(&opts.wpPrefix, "wp-prefix", "wp_", "WordPress table prefix (with -import-wordpress)")
	flag.BoolVar(&opts.importForce, "import-force", false, "Import even when consent logs already exist")
	flag.BoolVar(&opts.skipSettings, "import-skip-settings", false, "Import consent logs only")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "gtmconsent - Google Tag Manager cookie consent service\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_SESSION_SECRET       Session encryption key (required, min 32 bytes)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_DB_PATH              SQLite database path (default: ./data/gtmconsent.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_SERVER_PORT          Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_ENV                  Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_ADMIN_USER           Admin user name (default: admin)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_ADMIN_PASSWORD_HASH  argon2id hash from -hash-password (admin disabled if empty)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_REDIS_URL            Redis URL for the geolocation cache (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_GEOIP_DB_PATH        GeoLite2-City.mmdb path (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  GTMC_GEO_DISABLED         Skip geolocation entirely (default: false)\n")
	}

	flag.Parse()

	// Handle -h/-help flag
	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	// Handle -v/-version flag
	if *showVersion {
		_, _ = fmt.Printf("gtmconsent %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if opts.hashPassword {
		if err := printPasswordHash(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// printPasswordHash reads a password without echo when stdin is a terminal.
func printPasswordHash() error {
	var password string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Println(hash)
	return nil
}

func run(opts options) error {
	// Load .env files if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	if opts.uninstall {
		return uninstall(db, opts.yes)
	}

	slog.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Upgrade logger to also write WARN and ERROR logs to the event log
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger = slog.New(logging.NewEventLogHandler(textHandler, db))
	slog.SetDefault(logger)

	ctx := context.Background()

	settingsProvider := settings.NewProvider(db, logger)
	if _, err := settingsProvider.Load(ctx); err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	if opts.importDSN != "" {
		return importWordPress(ctx, db, settingsProvider, logger, opts)
	}

	return serve(ctx, cfg, db, settingsProvider, logger)
}

func uninstall(db *sql.DB, yes bool) error {
	if !yes {
		_, _ = fmt.Fprint(os.Stderr, "This deletes all consent logs and settings. Type \"yes\" to continue: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			return errors.New("uninstall aborted")
		}
	}
	if err := store.Uninstall(context.Background(), db); err != nil {
		return err
	}
	slog.Info("uninstall complete")
	return nil
}

func importWordPress(ctx context.Context, db *sql.DB, sp *settings.Provider, logger *slog.Logger, opts options) error {
	src, err := importer.OpenReader(opts.importDSN, opts.wpPrefix)
	if err != nil {
		return fmt.Errorf("opening WordPress database: %w", err)
	}
	defer func() { _ = src.Close() }()

	res, err := importer.New(db, sp, logger).Run(ctx, src, importer.Options{
		Force:        opts.importForce,
		SkipSettings: opts.skipSettings,
	})
	if err != nil {
		return fmt.Errorf("importing from WordPress: %w", err)
	}
	for _, w := range res.Warnings {
		logger.Warn("imported setting rejected", "warning", w)
	}
	_, _ = fmt.Printf("Imported %d consent logs (%d skipped) and %d settings\n",
		res.LogsImported, res.LogsSkipped, res.Settings)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, db *sql.DB, sp *settings.Provider, logger *slog.Logger) error {
	isDev := cfg.IsDevelopment()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Cache for geolocation lookups
	geoCache := cache.New(cache.Config{
		RedisURL:   cfg.RedisURL,
		Prefix:     cfg.CachePrefix,
		DefaultTTL: cfg.GeoCacheTTL,
		MaxItems:   10000,
	}, logger)
	defer func() { _ = geoCache.Close() }()
	var cachePinger handler.Pinger
	if p, ok := geoCache.(handler.Pinger); ok {
		cachePinger = p
	}

	// Geolocation: local MaxMind database first, then the HTTP API
	var locator geoip.Locator
	var maxmind *geoip.MaxMind
	if !cfg.GeoDisabled {
		var chain geoip.Chain
		if cfg.GeoIPEnabled() {
			mm, err := geoip.OpenMaxMind(cfg.GeoIPDBPath)
			if err != nil {
				logger.Warn("GeoIP database unavailable, using HTTP lookups only", "path", cfg.GeoIPDBPath, "error", err)
			} else {
				maxmind = mm
				defer func() { _ = mm.Close() }()
				chain = append(chain, mm)
			}
		}
		api := geoip.NewCached(geoip.NewIPAPI(cfg.GeoAPIURL, cfg.GeoTimeout), geoCache, cfg.GeoCacheTTL, logger).
			OnHit(m.IncGeoCacheHit)
		chain = append(chain, api)
		locator = chain
	}

	consentService := consent.NewService(store.New(db), locator, m, logger, consent.ServiceConfig{
		GeoTimeout:   cfg.GeoTimeout,
		DedupeWindow: cfg.DedupeWindow,
	})

	// Sessions
	sessions := session.Wrap(session.New(db, isDev))

	// Templates
	renderer, err := render.New(render.Config{
		TemplatesFS: web.TemplatesFS(),
		Sessions:    sessions,
		IsDev:       isDev,
	})
	if err != nil {
		return fmt.Errorf("initializing renderer: %w", err)
	}
	widgetRenderer, err := widget.New()
	if err != nil {
		return fmt.Errorf("initializing widget: %w", err)
	}

	// Admin authentication
	admin, err := auth.NewAdmin(cfg.AdminUser, cfg.AdminPasswordHash, logger)
	if err != nil {
		return fmt.Errorf("configuring admin: %w", err)
	}
	if !admin.Enabled() {
		logger.Warn("admin login disabled, set GTMC_ADMIN_PASSWORD_HASH to enable it")
	}
	loginGuard := middleware.NewLoginGuard(middleware.LoginGuardConfig{})
	limiter := middleware.NewRateLimiter(cfg.ConsentRPS, cfg.ConsentBurst, m)

	// Scheduler
	sched := scheduler.New(logger, 5*time.Minute)
	jobs := []scheduler.Job{
		{
			Name:        "limiter-sweep",
			Description: "Forget idle rate limiter and login guard entries",
			Schedule:    "@every 10m",
			Run: func(context.Context) error {
				limiter.Sweep()
				loginGuard.Sweep()
				return nil
			},
		},
		{
			Name:        "consent-stats",
			Description: "Log consent totals",
			Schedule:    "@hourly",
			Run: func(ctx context.Context) error {
				stats, err := store.New(db).GetConsentStatistics(ctx)
				if err != nil {
					return err
				}
				logger.Info("consent statistics",
					"accepted", stats.Accepted,
					"declined", stats.Declined,
					"no_action", stats.NoAction,
					"total", stats.TotalVisitors)
				return nil
			},
		},
	}
	if maxmind != nil {
		jobs = append(jobs, scheduler.Job{
			Name:        "geoip-reload",
			Description: "Reload the MaxMind database from disk",
			Schedule:    "@every 6h",
			Run: func(context.Context) error {
				return maxmind.Reload()
			},
		})
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("registering job: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Handlers
	consentHandler := handler.NewConsentHandler(consentService, sessions, sp, m, logger, !isDev)
	adminHandler := handler.NewAdminHandler(db, renderer, sp, sched, logger)
	settingsHandler := handler.NewSettingsHandler(db, renderer, sp, logger)
	authHandler := handler.NewAuthHandler(admin, renderer, sessions, loginGuard, logger)
	healthHandler := handler.NewHealthHandler(db, cachePinger, sessions, appVersion)
	siteHandler := handler.NewSiteHandler(renderer, widgetRenderer, sessions, sp, logger)

	csrfKey := []byte(cfg.SessionSecret)[:32]
	csrfMiddleware := middleware.CSRF(middleware.DefaultCSRFConfig(csrfKey, isDev, cfg.ServerAddr()))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(isDev)))
	r.Use(sessions.LoadAndSave)
	r.Use(attribution.Capture(attribution.CaptureConfig{
		Secure:             !isDev,
		TrackInitialSource: func() bool { return sp.Current().EnableInitialTrafficSource },
		SkipPrefixes:       []string{"/static", "/consent", "/admin", "/health", "/metrics", "/login", "/logout"},
	}))

	// Static assets: cache for 1 day
	static := http.StripPrefix("/static/dist/", http.FileServer(http.FS(web.StaticFS())))
	r.Handle("/static/dist/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		static.ServeHTTP(w, req)
	}))

	// Public consent API
	r.Route("/consent", func(r chi.Router) {
		r.Use(limiter.ConsentMiddleware())
		consentHandler.Routes(r)
	})

	// Admin login
	r.Group(func(r chi.Router) {
		r.Use(csrfMiddleware)
		r.Use(limiter.HTMLMiddleware())
		r.Get("/login", authHandler.LoginForm)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})

	// Admin pages
	r.Route("/admin", func(r chi.Router) {
		r.Use(csrfMiddleware)
		r.Use(middleware.RequireAdmin(sessions))
		r.Get("/", adminHandler.Dashboard)
		r.Get("/logs", adminHandler.Logs)
		r.Get("/settings", settingsHandler.Edit)
		r.Post("/settings", settingsHandler.Update)
		r.Get("/api/stats", adminHandler.Stats)
	})

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", m.Handler())
	r.Get("/", siteHandler.Home)

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB max header size
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env, "version", appVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
