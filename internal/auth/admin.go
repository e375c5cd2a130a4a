// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
)

var (
	// ErrBadCredentials is returned for an unknown user or a wrong password.
	ErrBadCredentials = errors.New("invalid username or password")

	// ErrAdminDisabled is returned when no password hash is configured.
	ErrAdminDisabled = errors.New("admin login is disabled")
)

// Admin checks credentials for the configured administrator.
type Admin struct {
	user string
	hash string
	// dummy is verified when the user name does not match so both
	// branches cost one argon2 derivation.
	dummy string
}

// NewAdmin returns an Admin for user with the given argon2id hash. An
// empty hash disables login.
func NewAdmin(user, hash string, logger *slog.Logger) (*Admin, error) {
	if hash != "" {
		if _, err := decodeHash(hash); err != nil {
			return nil, err
		}
		if NeedsRehash(hash) {
			logger.Warn("admin password hash uses outdated argon2 parameters; regenerate it with -hash-password")
		}
	}
	dummy, err := HashPassword("not-the-password")
	if err != nil {
		return nil, err
	}
	return &Admin{user: user, hash: hash, dummy: dummy}, nil
}

// Enabled reports whether a password hash is configured.
func (a *Admin) Enabled() bool {
	return a.hash != ""
}

// User returns the configured administrator name.
func (a *Admin) User() string {
	return a.user
}

// Authenticate verifies user and password.
func (a *Admin) Authenticate(user, password string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	hash := a.hash
	if !userOK {
		hash = a.dummy
	}

	ok, err := CheckPassword(password, hash)
	if err != nil {
		return err
	}
	if !ok || !userOK {
		return ErrBadCredentials
	}
	return nil
}
