// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncbridge/internal/codec"
)

// QueryID identifies one query in the store query set. Ids are assigned by
// this client and are never reused within a process.
type QueryID uint32

// StateVersion is the store's view of the session: query-set version,
// identity version and the timestamp of the last applied transition.
type StateVersion struct {
	QuerySet uint32
	Identity uint32
	TS       uint64
}

type stateVersionJSON struct {
	QuerySet uint32 `json:"querySet"`
	Identity uint32 `json:"identity"`
	TS       string `json:"ts"`
}

// MarshalJSON encodes the timestamp as base64 little-endian bytes.
func (v StateVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateVersionJSON{QuerySet: v.QuerySet, Identity: v.Identity, TS: codec.EncodeLE64(v.TS)})
}

// UnmarshalJSON decodes the wire form written by MarshalJSON.
func (v *StateVersion) UnmarshalJSON(data []byte) error {
	var raw stateVersionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := codec.DecodeLE64(raw.TS)
	if err != nil {
		return fmt.Errorf("state version ts: %w", err)
	}
	*v = StateVersion{QuerySet: raw.QuerySet, Identity: raw.Identity, TS: ts}
	return nil
}

// Client -> store messages.

type connectMessage struct {
	Type                 string  `json:"type"`
	SessionID            string  `json:"sessionId"`
	ConnectionCount      uint32  `json:"connectionCount"`
	LastCloseReason      string  `json:"lastCloseReason"`
	MaxObservedTimestamp *string `json:"maxObservedTimestamp,omitempty"`
}

type modifyQuerySetMessage struct {
	Type          string                 `json:"type"`
	BaseVersion   uint32                 `json:"baseVersion"`
	NewVersion    uint32                 `json:"newVersion"`
	Modifications []querySetModification `json:"modifications"`
}

type querySetModification struct {
	Type    string  `json:"type"`
	QueryID QueryID `json:"queryId"`
	UDFPath string  `json:"udfPath,omitempty"`
	Args    []any   `json:"args,omitempty"`
}

type authenticateMessage struct {
	Type        string `json:"type"`
	BaseVersion uint32 `json:"baseVersion"`
	TokenType   string `json:"tokenType"`
	Value       string `json:"value,omitempty"`
}

func newConnect(sessionID string, count uint32, reason string, maxTS uint64) connectMessage {
	msg := connectMessage{
		Type:            "Connect",
		SessionID:       sessionID,
		ConnectionCount: count,
		LastCloseReason: reason,
	}
	if maxTS > 0 {
		ts := codec.EncodeLE64(maxTS)
		msg.MaxObservedTimestamp = &ts
	}
	return msg
}

func addModification(id QueryID, q *query) querySetModification {
	args := q.args
	if args.IsNull() {
		args = codec.Object(nil)
	}
	return querySetModification{
		Type:    "Add",
		QueryID: id,
		UDFPath: q.udfPath,
		Args:    []any{codec.ToWire(args)},
	}
}

func removeModification(id QueryID) querySetModification {
	return querySetModification{Type: "Remove", QueryID: id}
}

func newAuthenticate(base uint32, token string) authenticateMessage {
	if token == "" {
		return authenticateMessage{Type: "Authenticate", BaseVersion: base, TokenType: "None"}
	}
	return authenticateMessage{Type: "Authenticate", BaseVersion: base, TokenType: "User", Value: token}
}

// Store -> client messages.

const (
	msgTransition       = "Transition"
	msgAuthError        = "AuthError"
	msgFatalError       = "FatalError"
	msgPing             = "Ping"
	msgMutationResponse = "MutationResponse"
	msgActionResponse   = "ActionResponse"

	modQueryUpdated = "QueryUpdated"
	modQueryFailed  = "QueryFailed"
	modQueryRemoved = "QueryRemoved"
)

type serverMessage struct {
	Type          string              `json:"type"`
	StartVersion  StateVersion        `json:"startVersion"`
	EndVersion    StateVersion        `json:"endVersion"`
	Modifications []stateModification `json:"modifications"`
	Error         string              `json:"error"`
	BaseVersion   *uint32             `json:"baseVersion,omitempty"`
}

type stateModification struct {
	Type         string          `json:"type"`
	QueryID      QueryID         `json:"queryId"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	LogLines     []string        `json:"logLines,omitempty"`
	Journal      *string         `json:"journal,omitempty"`
	ErrorData    json.RawMessage `json:"errorData,omitempty"`
}

func parseServerMessage(data []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errDesync, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: message without type", errDesync)
	}
	return &msg, nil
}
