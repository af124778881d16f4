// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package protocol

import "github.com/tomtom215/syncbridge/internal/codec"

// ResponseKind classifies a payload delivered for a subscription.
type ResponseKind uint8

const (
	// KindAdded is the first payload a subscriber sees.
	KindAdded ResponseKind = iota
	// KindUpdate replaces a value the subscriber already has.
	KindUpdate
	// KindDeleted means the result is gone (null payload or query removed).
	KindDeleted
	// KindError carries a message instead of a value.
	KindError
)

func (k ResponseKind) String() string {
	switch k {
	case KindAdded:
		return "Added"
	case KindUpdate:
		return "Update"
	case KindDeleted:
		return "Deleted"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

func parseKind(s string) (ResponseKind, bool) {
	switch s {
	case "Added":
		return KindAdded, true
	case "Update":
		return KindUpdate, true
	case "Deleted":
		return KindDeleted, true
	default:
		return 0, false
	}
}

// Error messages sent to subscribers when the store itself is the problem.
const (
	ErrMsgAuth        = "auth"
	ErrMsgUnavailable = "store unavailable"
)

// Response is one payload for one subscription.
type Response struct {
	Kind  ResponseKind
	Value codec.Value
	Error string
}

// Added returns an Added response.
func Added(v codec.Value) Response { return Response{Kind: KindAdded, Value: v} }

// Update returns an Update response.
func Update(v codec.Value) Response { return Response{Kind: KindUpdate, Value: v} }

// Deleted returns a Deleted response with a null value.
func Deleted() Response { return Response{Kind: KindDeleted} }

// Failed returns an error response.
func Failed(msg string) Response { return Response{Kind: KindError, Error: msg} }

// IsError reports whether r carries an error message.
func (r Response) IsError() bool { return r.Kind == KindError }
