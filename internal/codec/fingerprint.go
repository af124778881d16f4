// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies a (name, args) pair. It is comparable and is used as
// a map key by every layer that de-duplicates subscriptions.
//
// It hashes canonical bytes, so args holding the same NaN bit pattern share a
// fingerprint even though Equal reports them unequal.
type Fingerprint [sha256.Size]byte

// ComputeFingerprint hashes name and the canonical form of args.
func ComputeFingerprint(name string, args Value) Fingerprint {
	return sha256.Sum256(CanonicalBytes(name, args))
}

// CanonicalBytes returns name, a NUL separator and the sorted-key wire JSON of args.
func CanonicalBytes(name string, args Value) []byte {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteByte(0)
	writeCanonical(&buf, args)
	return buf.Bytes()
}

// String returns the full hex digest.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:6])
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}
