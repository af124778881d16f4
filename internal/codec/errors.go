// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package codec

import "errors"

var (
	// ErrMalformedTaggedValue is returned for a $integer or $float object with
	// bad base64, the wrong byte length or unexpected sibling keys.
	ErrMalformedTaggedValue = errors.New("malformed tagged value")

	// ErrUnsupportedType is returned when a value has no representation in the
	// store dialect, or a Go value cannot be converted into one.
	ErrUnsupportedType = errors.New("unsupported type")
)
