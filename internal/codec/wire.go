// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	integerTag = "$integer"
	floatTag   = "$float"
)

// ToWire rewrites v into the store's JSON dialect as a tree of nil, bool,
// json.Number, string, []any and map[string]any, ready for json.Marshal.
// Finite floats always carry a fraction or exponent so integer-aware
// decoders such as UnmarshalArgs keep them as floats.
func ToWire(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return map[string]any{integerTag: encodeInt64(v.i)}
	case KindFloat64:
		if needsFloatTag(v.f) {
			return map[string]any{floatTag: encodeFloat64(v.f)}
		}
		return json.Number(formatFloat(v.f))
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToWire(e)
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = ToWire(e)
		}
		return out
	}
	return nil
}

// FromWire is the inverse of ToWire. It accepts the tree produced by
// json.Unmarshal into an any, with numbers as float64 or json.Number.
func FromWire(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null(), fmt.Errorf("%w: number %q", ErrUnsupportedType, x.String())
		}
		return Float64(f), nil
	case string:
		return Str(x), nil
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			v, err := FromWire(e)
			if err != nil {
				return Null(), err
			}
			elems[i] = v
		}
		return Value{kind: KindArray, arr: elems}, nil
	case map[string]any:
		if v, ok, err := fromTagged(x); ok || err != nil {
			return v, err
		}
		fields := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := FromWire(e)
			if err != nil {
				return Null(), err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	default:
		return Null(), fmt.Errorf("%w: %T", ErrUnsupportedType, raw)
	}
}

// UnmarshalArgs decodes browser-supplied JSON arguments. Unlike the store
// dialect, an integer literal in int64 range becomes Int64 so plain JSON and
// tagged integers share a fingerprint. Tagged escapes are still honoured.
func UnmarshalArgs(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), err
	}
	return fromNumberTree(raw)
}

// MarshalWire encodes v as store-dialect JSON.
func MarshalWire(v Value) ([]byte, error) {
	return json.Marshal(ToWire(v))
}

// UnmarshalWire decodes store-dialect JSON.
func UnmarshalWire(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Null(), err
	}
	return FromWire(raw)
}

// MarshalJSON implements json.Marshaler using the wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	return MarshalWire(v)
}

// UnmarshalJSON implements json.Unmarshaler using the wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := UnmarshalWire(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// String renders v as canonical wire JSON.
func (v Value) String() string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

func fromTagged(obj map[string]any) (Value, bool, error) {
	rawInt, hasInt := obj[integerTag]
	rawFloat, hasFloat := obj[floatTag]
	if !hasInt && !hasFloat {
		return Null(), false, nil
	}
	if len(obj) != 1 {
		return Null(), true, fmt.Errorf("%w: tagged object has %d keys", ErrMalformedTaggedValue, len(obj))
	}

	raw := rawInt
	tag := integerTag
	if hasFloat {
		raw, tag = rawFloat, floatTag
	}
	s, ok := raw.(string)
	if !ok {
		return Null(), true, fmt.Errorf("%w: %s payload is %T, want string", ErrMalformedTaggedValue, tag, raw)
	}
	bits, err := decodeLE64(s)
	if err != nil {
		return Null(), true, fmt.Errorf("%w: %s: %v", ErrMalformedTaggedValue, tag, err)
	}
	if hasInt {
		return Int64(int64(bits)), true, nil //nolint:gosec // reinterpretation of two's complement bits
	}
	return Float64(math.Float64frombits(bits)), true, nil
}

func needsFloatTag(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0) || (f == 0 && math.Signbit(f))
}

// formatFloat renders a finite float, appending ".0" to whole values.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func encodeInt64(i int64) string {
	return EncodeLE64(uint64(i)) //nolint:gosec // two's complement bits are the wire format
}

func encodeFloat64(f float64) string {
	return EncodeLE64(math.Float64bits(f))
}

// EncodeLE64 base64-encodes u as 8 little-endian bytes. The store also uses
// this form for timestamps.
func EncodeLE64(u uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return base64.StdEncoding.EncodeToString(b[:])
}

// DecodeLE64 is the inverse of EncodeLE64.
func DecodeLE64(s string) (uint64, error) {
	bits, err := decodeLE64(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedTaggedValue, err)
	}
	return bits, nil
}

func decodeLE64(s string) (uint64, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("decoded %d bytes, want 8", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// writeCanonical writes sorted-key wire JSON.
func writeCanonical(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt64:
		buf.WriteString(`{"$integer":"`)
		buf.WriteString(encodeInt64(v.i))
		buf.WriteString(`"}`)
	case KindFloat64:
		if needsFloatTag(v.f) {
			buf.WriteString(`{"$float":"`)
			buf.WriteString(encodeFloat64(v.f))
			buf.WriteString(`"}`)
			return
		}
		buf.WriteString(formatFloat(v.f))
	case KindString:
		writeQuoted(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeQuoted(buf, k)
			buf.WriteByte(':')
			writeCanonical(buf, v.obj[k])
		}
		buf.WriteByte('}')
	}
}

func writeQuoted(buf *bytes.Buffer, s string) {
	b, err := json.Marshal(s)
	if err != nil {
		buf.WriteString(strconv.Quote(s))
		return
	}
	buf.Write(b)
}
