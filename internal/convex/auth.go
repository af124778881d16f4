// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// The store verifies the token; the client only needs to know when it lapses.
// ok is false when the token carries no exp claim.
func tokenExpiry(token string) (exp time.Time, ok bool, err error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse auth token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// checkToken rejects tokens that are malformed or already expired at now.
func checkToken(token string, now time.Time) (time.Time, error) {
	exp, ok, err := tokenExpiry(token)
	if err != nil {
		return time.Time{}, err
	}
	if ok && !exp.After(now) {
		return exp, fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return exp, nil
}
