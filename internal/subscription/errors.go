// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package subscription

import "errors"

var (
	// ErrBackpressure closes a sink that could not keep up.
	ErrBackpressure = errors.New("sink buffer exceeded")

	// ErrManagerStopped is returned by requests made after Run has exited,
	// and closes every sink still attached at that point.
	ErrManagerStopped = errors.New("subscription manager stopped")

	// ErrSinkClosed is returned when attaching a sink that was already evicted.
	ErrSinkClosed = errors.New("sink closed")
)
