// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncbridge/internal/codec"
)

// ErrMalformedFrame is returned for frames that do not match the schema.
var ErrMalformedFrame = errors.New("malformed frame")

// Op is the client frame operation.
type Op uint8

const (
	OpSubscribe Op = iota + 1
	OpUnsubscribe
)

func (o Op) String() string {
	switch o {
	case OpSubscribe:
		return "Subscribe"
	case OpUnsubscribe:
		return "Unsubscribe"
	default:
		return "Unknown"
	}
}

// ClientFrame is a request from a browser client.
type ClientFrame struct {
	Op    Op
	Query Query
}

// MarshalJSON encodes the frame as {"<Op>": Query}.
func (f ClientFrame) MarshalJSON() ([]byte, error) {
	if f.Op != OpSubscribe && f.Op != OpUnsubscribe {
		return nil, fmt.Errorf("%w: unknown op %d", ErrMalformedFrame, f.Op)
	}
	return json.Marshal(map[string]Query{f.Op.String(): f.Query})
}

// DecodeClientFrame parses and validates a client frame. Every failure
// wraps ErrMalformedFrame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(envelope) != 1 {
		return ClientFrame{}, fmt.Errorf("%w: expected exactly one operation, got %d", ErrMalformedFrame, len(envelope))
	}

	var frame ClientFrame
	var raw json.RawMessage
	for key, body := range envelope {
		switch key {
		case "Subscribe":
			frame.Op = OpSubscribe
		case "Unsubscribe":
			frame.Op = OpUnsubscribe
		default:
			return ClientFrame{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedFrame, key)
		}
		raw = body
	}

	q, err := decodeQuery(raw)
	if err != nil {
		return ClientFrame{}, err
	}
	frame.Query = q
	return frame, nil
}

// clientQuery defers args so they decode with integer literals intact.
type clientQuery struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func decodeQuery(raw json.RawMessage) (Query, error) {
	var in clientQuery
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return Query{}, fmt.Errorf("%w: query: %v", ErrMalformedFrame, err)
	}
	q := Query{Name: in.Name, Args: codec.Null()}
	if len(in.Args) > 0 {
		args, err := codec.UnmarshalArgs(in.Args)
		if err != nil {
			return Query{}, fmt.Errorf("%w: query args: %v", ErrMalformedFrame, err)
		}
		q.Args = args
	}
	if err := q.Validate(); err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return q, nil
}

// ServerFrame is a payload for one subscription.
type ServerFrame struct {
	Query    Query
	Response Response
}

type serverFrameJSON struct {
	Query Query                      `json:"query"`
	Res   map[string]json.RawMessage `json:"res,omitempty"`
	Err   *string                    `json:"err,omitempty"`
}

// MarshalJSON encodes a value response under "res" and an error under "err".
func (f ServerFrame) MarshalJSON() ([]byte, error) {
	out := serverFrameJSON{Query: f.Query}
	if f.Response.Kind == KindError {
		msg := f.Response.Error
		out.Err = &msg
		return json.Marshal(out)
	}
	body, err := codec.MarshalWire(f.Response.Value)
	if err != nil {
		return nil, err
	}
	out.Res = map[string]json.RawMessage{f.Response.Kind.String(): body}
	return json.Marshal(out)
}

// DecodeServerFrame parses a server frame.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var in serverFrameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case in.Err != nil && in.Res == nil:
		return ServerFrame{Query: in.Query, Response: Failed(*in.Err)}, nil
	case in.Err == nil && len(in.Res) == 1:
	default:
		return ServerFrame{}, fmt.Errorf("%w: expected one of res or err", ErrMalformedFrame)
	}

	var key string
	var body json.RawMessage
	for k, b := range in.Res {
		key, body = k, b
	}
	kind, ok := parseKind(key)
	if !ok {
		return ServerFrame{}, fmt.Errorf("%w: unknown response kind %q", ErrMalformedFrame, key)
	}
	v, err := codec.UnmarshalWire(body)
	if err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ServerFrame{Query: in.Query, Response: Response{Kind: kind, Value: v}}, nil
}
