// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package binding

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/syncbridge/internal/client"
	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

// ErrDecode is the holder error for payloads that do not fit T.
const ErrDecode = "decode error"

// Status is the coarse state of a Holder.
type Status int

const (
	// StatusLoading means no payload has arrived yet.
	StatusLoading Status = iota
	// StatusOk means Value holds the latest result.
	StatusOk
	// StatusErr means Err holds the latest error.
	StatusErr
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusOk:
		return "ok"
	case StatusErr:
		return "err"
	default:
		return "unknown"
	}
}

// State is a snapshot of a Holder. Present is false when an optional
// query's result was deleted.
type State[T any] struct {
	Status  Status
	Value   T
	Present bool
	Err     string
}

// Def declares a query: its name, argument type A and result type T.
// Optional queries report a deleted result as absent rather than as the
// zero T.
type Def[A, T any] struct {
	Name     string
	Optional bool
}

// Query builds the wire query for args.
func (d Def[A, T]) Query(args A) (protocol.Query, error) {
	q, err := protocol.NewQuery(d.Name, args)
	if err == nil {
		err = q.Validate()
	}
	if err != nil {
		return protocol.Query{}, fmt.Errorf("binding %s: %w", d.Name, err)
	}
	return q, nil
}

// Subscriber is the part of client.Registry a binding needs.
type Subscriber interface {
	Subscribe(q protocol.Query) (*client.Subscription, error)
}

// Holder keeps the decoded result of one subscription.
type Holder[T any] struct {
	query    protocol.Query
	optional bool
	sub      *client.Subscription

	mu     sync.RWMutex
	state  State[T]
	raw    codec.Value
	hasRaw bool

	changed   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Bind subscribes to def with args and starts keeping a Holder current.
// The holder stops when ctx is cancelled or Close is called.
func Bind[A, T any](ctx context.Context, sub Subscriber, def Def[A, T], args A) (*Holder[T], error) {
	q, err := def.Query(args)
	if err != nil {
		return nil, err
	}
	s, err := sub.Subscribe(q)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", def.Name, err)
	}

	h := newHolder[T](q, def.Optional)
	h.sub = s

	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)
	return h, nil
}

func newHolder[T any](q protocol.Query, optional bool) *Holder[T] {
	return &Holder[T]{
		query:    q,
		optional: optional,
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (h *Holder[T]) run(ctx context.Context) {
	defer close(h.done)
	defer h.sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-h.sub.Updates():
			if !ok {
				return
			}
			h.apply(resp)
		}
	}
}

// apply folds one response into the holder and wakes observers if the
// visible state changed.
func (h *Holder[T]) apply(resp protocol.Response) {
	h.mu.Lock()
	next, raw, changed := h.nextLocked(resp)
	if changed {
		h.state = next
		h.raw, h.hasRaw = raw, next.Status == StatusOk
	}
	h.mu.Unlock()

	if changed {
		select {
		case h.changed <- struct{}{}:
		default:
		}
	}
}

func (h *Holder[T]) nextLocked(resp protocol.Response) (State[T], codec.Value, bool) {
	switch resp.Kind {
	case protocol.KindError:
		if h.state.Status == StatusErr && h.state.Err == resp.Error {
			return h.state, codec.Null(), false
		}
		return State[T]{Status: StatusErr, Err: resp.Error}, codec.Null(), true

	case protocol.KindDeleted:
		if h.hasRaw && h.raw.IsNull() {
			return h.state, codec.Null(), false
		}
		return State[T]{Status: StatusOk, Present: !h.optional}, codec.Null(), true

	default:
		if h.hasRaw && codec.Equal(h.raw, resp.Value) {
			return h.state, resp.Value, false
		}
		var v T
		if err := resp.Value.Decode(&v); err != nil {
			logging.Debug().
				Str("query", h.query.Name).
				Err(err).
				Msg("Query result does not decode into bound type")
			if h.state.Status == StatusErr && h.state.Err == ErrDecode {
				return h.state, codec.Null(), false
			}
			return State[T]{Status: StatusErr, Err: ErrDecode}, codec.Null(), true
		}
		if resp.Value.IsNull() && h.optional {
			return State[T]{Status: StatusOk}, resp.Value, true
		}
		return State[T]{Status: StatusOk, Value: v, Present: true}, resp.Value, true
	}
}

// Query returns the bound query.
func (h *Holder[T]) Query() protocol.Query { return h.query }

// Get returns the current state.
func (h *Holder[T]) Get() State[T] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Value returns the current result and whether one is present.
func (h *Holder[T]) Value() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Value, h.state.Status == StatusOk && h.state.Present
}

// Changed receives a signal after the state changes. Signals coalesce, so
// observers should call Get after each one.
func (h *Holder[T]) Changed() <-chan struct{} { return h.changed }

// Done is closed once the holder has stopped and released its subscription.
func (h *Holder[T]) Done() <-chan struct{} { return h.done }

// Close cancels the subscription and waits for the holder to stop. The last
// state stays readable.
func (h *Holder[T]) Close() {
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
			<-h.done
		}
	})
}
