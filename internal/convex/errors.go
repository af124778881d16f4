// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import "errors"

var (
	// ErrAuthFailed is returned by Run after the store rejected the auth token.
	ErrAuthFailed = errors.New("store auth failed")

	// ErrClosed is returned by operations on a client that has stopped.
	ErrClosed = errors.New("store client closed")

	// ErrUnavailable is the message carried by EventUnavailable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrTokenExpired is returned by SetAuth for a JWT whose exp is in the past.
	ErrTokenExpired = errors.New("auth token expired")

	// errDesync means the server sent a message that does not fit the
	// current protocol state. The connection is restarted.
	errDesync = errors.New("protocol desync")

	// errFatal wraps a FatalError sent by the store.
	errFatal = errors.New("store fatal error")

	// errInactive means nothing arrived within the inactivity window.
	errInactive = errors.New("server inactive")
)
