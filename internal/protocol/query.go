// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package protocol

import (
	"fmt"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/validation"
)

// MaxQueryNameLength bounds Query.Name.
const MaxQueryNameLength = 256

// Query names a store function and its arguments.
type Query struct {
	Name string      `json:"name" validate:"required,max=256,queryname"`
	Args codec.Value `json:"args"`
}

// NewQuery builds a Query from any Go value accepted by codec.FromGo.
func NewQuery(name string, args any) (Query, error) {
	v, err := codec.FromGo(args)
	if err != nil {
		return Query{}, fmt.Errorf("query %s args: %w", name, err)
	}
	return Query{Name: name, Args: v}, nil
}

// Fingerprint identifies the subscription this query maps to.
func (q Query) Fingerprint() codec.Fingerprint {
	return codec.ComputeFingerprint(q.Name, q.Args)
}

// Validate checks the struct tags on q.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q)
}

func (q Query) String() string {
	return q.Name + q.Args.String()
}
