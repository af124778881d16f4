// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

// Package codec converts structured query values between the reactive store's
// JSON dialect and an in-process tagged value tree.
//
// The store dialect is plain JSON with two escapes:
//
//	{"$integer": "<base64 of 8 little-endian bytes>"}  64-bit signed integers
//	{"$float":   "<base64 of 8 little-endian bytes>"}  NaN, +-Inf and -0.0
//
// Every other number on the wire is an ordinary float64.
//
// # Fingerprints
//
// Fingerprint hashes a query name plus its canonical argument tree (sorted
// object keys, numbers in their wire form) into a comparable [32]byte. Two
// queries share a fingerprint exactly when their names match and their
// arguments are structurally equal, comparing floats by bit pattern.
//
// # Go Types
//
// FromGo and Value.Decode bridge the tree to ordinary Go structs through
// goccy/go-json. Scalars passed directly keep their Go kind. Struct fields go
// through JSON, where an integral number becomes Int64, so an int64 field
// survives the round trip bit-exact. Pass a Value or a map[string]any to keep
// an integral float as Float64.
package codec
