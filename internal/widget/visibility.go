// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package widget

import (
	"github.com/olegiv/gtm-consent/internal/consent"
	"github.com/olegiv/gtm-consent/internal/settings"
)

// Visibility is the initial display state of the notice and the icon.
type Visibility struct {
	Notice bool
	Icon   bool
}

// VisibilityFor decides what a visitor in state st sees on page load.
// A recorded decision shows only the icon; otherwise auto-open shows the
// notice. Auto-accept on an undecided visitor hides both while the
// accept call runs.
func VisibilityFor(st consent.State, s settings.Settings) Visibility {
	var v Visibility
	switch {
	case st.Decided():
		v.Icon = true
	case s.AutoAccept:
		return v
	case s.AutoOpen:
		v.Notice = true
	default:
		v.Icon = true
	}
	if s.IconPosition == settings.IconHide {
		v.Icon = false
	}
	return v
}
