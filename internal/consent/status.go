// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package consent implements the visitor consent state machine, attribution
// field sanitation, and the service that records consent decisions.
package consent

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidStatus is returned when a status string is not one of the known values.
var ErrInvalidStatus = errors.New("invalid consent status")

// Status is the decision recorded in a consent log row.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusNoAction Status = "no_action"
)

var titleCaser = cases.Title(language.English)

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusAccepted, StatusDeclined, StatusNoAction:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusNoAction:
		return true
	}
	return false
}

// Label returns a human readable label, e.g. "No Action".
func (s Status) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

// Color returns the badge color used in the admin log list.
func (s Status) Color() string {
	switch s {
	case StatusAccepted:
		return "#46b450"
	case StatusDeclined:
		return "#dc3232"
	case StatusNoAction:
		return "#ffb900"
	}
	return "#666666"
}

// State returns the cookie state that corresponds to s.
func (s Status) State() State {
	switch s {
	case StatusAccepted:
		return StateAccepted
	case StatusDeclined:
		return StateDeclined
	case StatusNoAction:
		return StateNoAction
	}
	return StateUnset
}
