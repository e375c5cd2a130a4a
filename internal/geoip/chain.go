// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"errors"
	"fmt"
)

// Chain tries each Locator in order and returns the first success.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, ip string) (Location, error) {
	if len(c) == 0 {
		return Location{}, fmt.Errorf("%w: no providers configured", ErrLookupFailed)
	}

	var errs []error
	for _, l := range c {
		loc, err := l.Locate(ctx, ip)
		if err == nil {
			return loc, nil
		}
		if errors.Is(err, ErrPrivateAddress) {
			return Location{}, err
		}
		if ctx.Err() != nil {
			return Location{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return Location{}, errors.Join(errs...)
}

func (c Chain) Name() string { return "chain" }
