// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package testinfra

import (
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/convex"
)

// DefaultTimeout bounds every wait in this package.
const DefaultTimeout = 3 * time.Second

// StoreQuery is a query held by a FakeStore.
type StoreQuery struct {
	Name string
	Args codec.Value
}

// FakeStore records subscribe/unsubscribe calls and emits events pushed by
// the test. Its events channel is unbuffered, so Push returns only once the
// consumer has taken the event.
type FakeStore struct {
	mu           sync.Mutex
	nextID       convex.QueryID
	active       map[convex.QueryID]StoreQuery
	subscribes   int
	unsubscribes int
	events       chan convex.Event
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		active: make(map[convex.QueryID]StoreQuery),
		events: make(chan convex.Event),
	}
}

// Subscribe implements subscription.Store.
func (s *FakeStore) Subscribe(name string, args codec.Value) (convex.QueryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.active[id] = StoreQuery{Name: name, Args: args}
	s.subscribes++
	return id, nil
}

// Unsubscribe implements subscription.Store.
func (s *FakeStore) Unsubscribe(id convex.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	s.unsubscribes++
	return nil
}

// Events implements subscription.Store.
func (s *FakeStore) Events() <-chan convex.Event {
	return s.events
}

// Counts returns the number of subscribe and unsubscribe calls so far.
func (s *FakeStore) Counts() (subscribes, unsubscribes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.unsubscribes
}

// Active returns the number of queries currently held.
func (s *FakeStore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Lookup returns the id of the held query with the given name.
func (s *FakeStore) Lookup(name string) (convex.QueryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.active {
		if q.Name == name {
			return id, true
		}
	}
	return 0, false
}

// WaitForQuery waits until a query named name is held and returns its id.
func (s *FakeStore) WaitForQuery(t testing.TB, name string) convex.QueryID {
	t.Helper()
	var id convex.QueryID
	Eventually(t, "store query "+name, func() bool {
		var ok bool
		id, ok = s.Lookup(name)
		return ok
	})
	return id
}

// Push hands ev to the consumer.
func (s *FakeStore) Push(t testing.TB, ev convex.Event) {
	t.Helper()
	select {
	case s.events <- ev:
	case <-time.After(DefaultTimeout):
		t.Fatalf("store event %s not consumed", ev.Kind)
	}
}

// Update pushes a query result.
func (s *FakeStore) Update(t testing.TB, id convex.QueryID, v codec.Value, ts uint64) {
	t.Helper()
	s.Push(t, convex.Event{Kind: convex.EventUpdated, QueryID: id, Value: v, Timestamp: ts})
}

// Eventually polls cond until it holds or DefaultTimeout passes.
func Eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
