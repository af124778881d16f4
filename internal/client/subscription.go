// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package client

import (
	"sync"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

// Subscription is one subscriber's view of a query. Updates behaves like a
// cell: when the reader falls behind, older undelivered payloads are
// replaced by newer ones, and Latest always has the newest.
type Subscription struct {
	reg   *Registry
	fp    codec.Fingerprint
	query protocol.Query

	updates chan protocol.Response
	done    chan struct{}

	mu        sync.Mutex
	latest    protocol.Response
	hasLatest bool
	delivered bool
	cancelled bool
}

func newSubscription(reg *Registry, q protocol.Query, buffer int) *Subscription {
	return &Subscription{
		reg:     reg,
		fp:      q.Fingerprint(),
		query:   q,
		updates: make(chan protocol.Response, buffer),
		done:    make(chan struct{}),
	}
}

// Query returns the subscribed query.
func (s *Subscription) Query() protocol.Query { return s.query }

// Updates streams payloads. It is closed by Cancel and by Registry.Close.
func (s *Subscription) Updates() <-chan protocol.Response { return s.updates }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Latest returns the most recent payload, if any.
func (s *Subscription) Latest() (protocol.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Cancel releases the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.reg.cancel(s)
}

// deliver is called with the registry lock held, so deliveries and close
// never race.
func (s *Subscription) deliver(resp protocol.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}

	if resp.Kind != protocol.KindError {
		if !s.delivered && resp.Kind == protocol.KindUpdate {
			resp.Kind = protocol.KindAdded
		}
		s.delivered = true
	}
	s.latest, s.hasLatest = resp, true

	for {
		select {
		case s.updates <- resp:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// close is called with the registry lock held.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.updates)
	close(s.done)
}
