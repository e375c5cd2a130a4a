// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"log/slog"
	"sync"
	"time"
)

// LoginGuard locks an account after repeated failed sign-ins. Each
// lockout doubles the previous one, capped at maxLockout.
type LoginGuard struct {
	mu       sync.Mutex
	attempts map[string]*loginAttempt

	maxFailed int
	lockout   time.Duration
	window    time.Duration

	now func() time.Time
}

type loginAttempt struct {
	count       int
	firstFailed time.Time
	lockedUntil time.Time
	lockouts    int
}

const maxLockout = 24 * time.Hour

// LoginGuardConfig holds configuration for login lockout.
type LoginGuardConfig struct {
	// MaxFailedAttempts before account lockout (default: 5)
	MaxFailedAttempts int
	// LockoutDuration is the first lockout length (default: 15 minutes)
	LockoutDuration time.Duration
	// AttemptWindow is the period failures are counted over (default: 15 minutes)
	AttemptWindow time.Duration
}

// NewLoginGuard creates a LoginGuard, filling zero config values with defaults.
func NewLoginGuard(cfg LoginGuardConfig) *LoginGuard {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	return &LoginGuard{
		attempts:  make(map[string]*loginAttempt),
		maxFailed: cfg.MaxFailedAttempts,
		lockout:   cfg.LockoutDuration,
		window:    cfg.AttemptWindow,
		now:       time.Now,
	}
}

// Locked reports whether user is locked and for how much longer.
func (g *LoginGuard) Locked(user string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[user]
	if !ok {
		return false, 0
	}
	if now := g.now(); now.Before(a.lockedUntil) {
		return true, a.lockedUntil.Sub(now)
	}
	return false, 0
}

// Fail records a failed attempt and reports whether it locked the account.
func (g *LoginGuard) Fail(user string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	a, ok := g.attempts[user]
	if !ok || now.Sub(a.firstFailed) > g.window {
		if !ok {
			a = &loginAttempt{}
			g.attempts[user] = a
		}
		a.count = 1
		a.firstFailed = now
	} else {
		a.count++
	}

	if a.count < g.maxFailed {
		return false, 0
	}

	d := g.lockout
	for i := 0; i < a.lockouts && d < maxLockout; i++ {
		d *= 2
	}
	d = min(d, maxLockout)

	a.lockedUntil = now.Add(d)
	a.lockouts++
	a.count = 0

	slog.Warn("account locked due to failed attempts", "user", user, "lockouts", a.lockouts, "duration", d)
	return true, d
}

// Succeed clears failure tracking for user.
func (g *LoginGuard) Succeed(user string) {
	g.mu.Lock()
	delete(g.attempts, user)
	g.mu.Unlock()
}

// Remaining returns how many attempts user has before lockout.
func (g *LoginGuard) Remaining(user string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[user]
	if !ok || g.now().Sub(a.firstFailed) > g.window {
		return g.maxFailed
	}
	return max(g.maxFailed-a.count, 0)
}

// Sweep removes entries whose lockout and window have both passed.
func (g *LoginGuard) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for user, a := range g.attempts {
		if now.After(a.lockedUntil) && now.Sub(a.firstFailed) > g.window {
			delete(g.attempts, user)
		}
	}
}
