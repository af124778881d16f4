// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package subscription

import (
	"sync"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

// DefaultSinkBuffer is the sink capacity used when none is configured.
const DefaultSinkBuffer = 64

// Message is one payload routed to a sink.
type Message struct {
	Query       protocol.Query
	Fingerprint codec.Fingerprint
	Response    protocol.Response
	// Timestamp is the store timestamp of the payload, zero for snapshots
	// served from cache and for store-wide errors.
	Timestamp uint64
}

// Sink is the outbound queue of one subscriber, usually a browser session.
// A single sink may be attached to many fingerprints.
//
// The message channel is never closed; readers select on Done as well.
type Sink struct {
	ch   chan Message
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewSink creates a sink holding at most buffer undelivered messages.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &Sink{
		ch:   make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// C returns the message stream.
func (s *Sink) C() <-chan Message {
	return s.ch
}

// Done is closed when the manager evicts the sink.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

// Err returns the eviction reason, or nil while the sink is live.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len returns the number of queued messages.
func (s *Sink) Len() int {
	return len(s.ch)
}

func (s *Sink) offer(msg Message) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *Sink) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Sink) close(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}
