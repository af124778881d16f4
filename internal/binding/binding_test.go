// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package binding

import (
	"io"
	"testing"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type user struct {
	Name string `json:"name"`
	Age  int64  `json:"age"`
}

func userValue(name string, age int64) codec.Value {
	return codec.Object(map[string]codec.Value{
		"name": codec.Str(name),
		"age":  codec.Int64(age),
	})
}

func testHolder(t *testing.T, optional bool) *Holder[user] {
	t.Helper()
	q, err := protocol.NewQuery("users:get", map[string]any{"id": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	return newHolder[user](q, optional)
}

// woke reports whether a change signal is pending, consuming it.
func woke[T any](h *Holder[T]) bool {
	select {
	case <-h.Changed():
		return true
	default:
		return false
	}
}

func TestHolder_StartsLoading(t *testing.T) {
	h := testHolder(t, false)
	if st := h.Get(); st.Status != StatusLoading {
		t.Errorf("Status = %v, want loading", st.Status)
	}
	if _, ok := h.Value(); ok {
		t.Error("Value() present before first payload")
	}
}

func TestHolder_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		optional    bool
		responses   []protocol.Response
		wantStatus  Status
		wantPresent bool
		wantValue   user
		wantErr     string
	}{
		{
			name:        "added decodes",
			responses:   []protocol.Response{protocol.Added(userValue("ada", 36))},
			wantStatus:  StatusOk,
			wantPresent: true,
			wantValue:   user{Name: "ada", Age: 36},
		},
		{
			name: "update replaces",
			responses: []protocol.Response{
				protocol.Added(userValue("ada", 36)),
				protocol.Update(userValue("ada", 37)),
			},
			wantStatus:  StatusOk,
			wantPresent: true,
			wantValue:   user{Name: "ada", Age: 37},
		},
		{
			name:       "decode failure",
			responses:  []protocol.Response{protocol.Added(codec.Str("not a user"))},
			wantStatus: StatusErr,
			wantErr:    ErrDecode,
		},
		{
			name: "recovers after decode failure",
			responses: []protocol.Response{
				protocol.Added(codec.Array()),
				protocol.Update(userValue("grace", 45)),
			},
			wantStatus:  StatusOk,
			wantPresent: true,
			wantValue:   user{Name: "grace", Age: 45},
		},
		{
			name:       "query error",
			responses:  []protocol.Response{protocol.Failed("not found")},
			wantStatus: StatusErr,
			wantErr:    "not found",
		},
		{
			name: "deleted required",
			responses: []protocol.Response{
				protocol.Added(userValue("ada", 36)),
				protocol.Deleted(),
			},
			wantStatus:  StatusOk,
			wantPresent: true,
		},
		{
			name:     "deleted optional",
			optional: true,
			responses: []protocol.Response{
				protocol.Added(userValue("ada", 36)),
				protocol.Deleted(),
			},
			wantStatus:  StatusOk,
			wantPresent: false,
		},
		{
			name:       "optional null payload",
			optional:   true,
			responses:  []protocol.Response{protocol.Added(codec.Null())},
			wantStatus: StatusOk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHolder(t, tt.optional)
			for _, resp := range tt.responses {
				h.apply(resp)
			}
			st := h.Get()
			if st.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v", st.Status, tt.wantStatus)
			}
			if st.Err != tt.wantErr {
				t.Errorf("Err = %q, want %q", st.Err, tt.wantErr)
			}
			if st.Present != tt.wantPresent {
				t.Errorf("Present = %v, want %v", st.Present, tt.wantPresent)
			}
			if st.Value != tt.wantValue {
				t.Errorf("Value = %+v, want %+v", st.Value, tt.wantValue)
			}
		})
	}
}

func TestHolder_SuppressesEqualValues(t *testing.T) {
	h := testHolder(t, false)

	h.apply(protocol.Added(userValue("ada", 36)))
	if !woke(h) {
		t.Fatal("first payload did not wake observers")
	}

	h.apply(protocol.Update(userValue("ada", 36)))
	if woke(h) {
		t.Error("equal payload woke observers")
	}

	h.apply(protocol.Update(userValue("ada", 37)))
	if !woke(h) {
		t.Error("changed payload did not wake observers")
	}

	h.apply(protocol.Failed("boom"))
	if !woke(h) {
		t.Error("error did not wake observers")
	}
	h.apply(protocol.Failed("boom"))
	if woke(h) {
		t.Error("repeated error woke observers")
	}

	h.apply(protocol.Update(userValue("ada", 37)))
	if !woke(h) {
		t.Error("recovery to a previously seen value did not wake observers")
	}
}

func TestHolder_DeletedTwiceWakesOnce(t *testing.T) {
	h := testHolder(t, true)
	h.apply(protocol.Added(userValue("ada", 36)))
	woke(h)

	h.apply(protocol.Deleted())
	if !woke(h) {
		t.Error("delete did not wake observers")
	}
	h.apply(protocol.Deleted())
	if woke(h) {
		t.Error("repeated delete woke observers")
	}
}

func TestDef_Query(t *testing.T) {
	type args struct {
		ID string `json:"id"`
	}
	def := Def[args, user]{Name: "users:get"}

	q, err := def.Query(args{ID: "u1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want, _ := protocol.NewQuery("users:get", map[string]any{"id": "u1"})
	if q.Fingerprint() != want.Fingerprint() {
		t.Errorf("Query() = %s, want %s", q, want)
	}

	bad := Def[args, user]{Name: "no spaces allowed"}
	if _, err := bad.Query(args{}); err == nil {
		t.Error("Query() with invalid name returned nil error")
	}
}

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{
		StatusLoading: "loading",
		StatusOk:      "ok",
		StatusErr:     "err",
		Status(9):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
