// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package codec

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// FromGo converts a Go value into a Value. Scalars, slices of any and
// map[string]any convert directly; anything else goes through goccy/go-json,
// with integral JSON numbers becoming Int64 and the rest Float64.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int64(int64(t)), nil
	case int8:
		return Int64(int64(t)), nil
	case int16:
		return Int64(int64(t)), nil
	case int32:
		return Int64(int64(t)), nil
	case int64:
		return Int64(t), nil
	case uint8:
		return Int64(int64(t)), nil
	case uint16:
		return Int64(int64(t)), nil
	case uint32:
		return Int64(int64(t)), nil
	case uint:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return Float64(float64(t)), nil
	case float64:
		return Float64(t), nil
	case string:
		return Str(t), nil
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			v, err := FromGo(e)
			if err != nil {
				return Null(), err
			}
			elems[i] = v
		}
		return Value{kind: KindArray, arr: elems}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromGo(e)
			if err != nil {
				return Null(), err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	}

	data, err := json.Marshal(x)
	if err != nil {
		return Null(), fmt.Errorf("%w: %T: %v", ErrUnsupportedType, x, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), fmt.Errorf("%w: %T: %v", ErrUnsupportedType, x, err)
	}
	return fromNumberTree(raw)
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Null(), fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, u)
	}
	return Int64(int64(u)), nil
}

// fromNumberTree is FromWire for trees decoded with UseNumber, where integral
// numbers are Go integers rather than store floats.
func fromNumberTree(raw any) (Value, error) {
	switch x := raw.(type) {
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Int64(i), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return Null(), fmt.Errorf("%w: number %q", ErrUnsupportedType, s)
		}
		return Float64(f), nil
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			v, err := fromNumberTree(e)
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
			v, err := fromNumberTree(e)
			if err != nil {
				return Null(), err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, obj: fields}, nil
	default:
		return FromWire(raw)
	}
}

// Decode stores v into the Go value pointed to by dst. Integers are decoded
// exactly into integer fields. A *Value destination receives v unchanged.
func (v Value) Decode(dst any) error {
	if p, ok := dst.(*Value); ok {
		*p = v
		return nil
	}
	plain, err := toPlain(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// toPlain drops the tagged escapes so ordinary Go types can decode the tree.
func toPlain(v Value) (any, error) {
	switch v.kind {
	case KindInt64:
		return json.Number(strconv.FormatInt(v.i, 10)), nil
	case KindFloat64:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: non-finite float has no plain JSON form", ErrUnsupportedType)
		}
		return v.f, nil
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			p, err := toPlain(e)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			p, err := toPlain(e)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	default:
		return ToWire(v), nil
	}
}
