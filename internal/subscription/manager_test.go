// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/protocol"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// fakeStore records query set changes. events is unbuffered so a send
// returns only once the manager has picked the event up.
type fakeStore struct {
	mu           sync.Mutex
	nextID       convex.QueryID
	active       map[convex.QueryID]string
	subscribes   int
	unsubscribes int
	subscribeErr error
	events       chan convex.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active: make(map[convex.QueryID]string),
		events: make(chan convex.Event),
	}
}

func (s *fakeStore) Subscribe(name string, _ codec.Value) (convex.QueryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return 0, s.subscribeErr
	}
	id := s.nextID
	s.nextID++
	s.active[id] = name
	s.subscribes++
	return id, nil
}

func (s *fakeStore) Unsubscribe(id convex.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	s.unsubscribes++
	return nil
}

func (s *fakeStore) Events() <-chan convex.Event {
	return s.events
}

func (s *fakeStore) counts() (subscribes, unsubscribes, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.unsubscribes, len(s.active)
}

func (s *fakeStore) idFor(t *testing.T, name string) convex.QueryID {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.active {
		if n == name {
			return id
		}
	}
	t.Fatalf("no active store query named %q", name)
	return 0
}

func (s *fakeStore) push(t *testing.T, ev convex.Event) {
	t.Helper()
	select {
	case s.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not accept store event")
	}
}

func (s *fakeStore) update(t *testing.T, id convex.QueryID, v codec.Value, ts uint64) {
	t.Helper()
	s.push(t, convex.Event{Kind: convex.EventUpdated, QueryID: id, Value: v, Timestamp: ts})
}

func startManager(t *testing.T) (*Manager, *fakeStore, context.CancelFunc) {
	t.Helper()
	store := newFakeStore()
	m := NewManager(store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, store, cancel
}

func testQuery(name string) protocol.Query {
	return protocol.Query{Name: name, Args: codec.Object(map[string]codec.Value{"channel": codec.Str("general")})}
}

func attach(t *testing.T, m *Manager, q protocol.Query, sink *Sink) Handle {
	t.Helper()
	h, err := m.Attach(context.Background(), q, sink)
	if err != nil {
		t.Fatalf("Attach(%s) error = %v", q.Name, err)
	}
	return h
}

func recv(t *testing.T, sink *Sink) Message {
	t.Helper()
	select {
	case msg := <-sink.C():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink message")
		return Message{}
	}
}

func expectKind(t *testing.T, sink *Sink, kind protocol.ResponseKind, want codec.Value) {
	t.Helper()
	msg := recv(t, sink)
	if msg.Response.Kind != kind {
		t.Fatalf("Kind = %v, want %v (%+v)", msg.Response.Kind, kind, msg.Response)
	}
	if kind != protocol.KindError && !codec.Identical(msg.Response.Value, want) {
		t.Fatalf("Value = %v, want %v", msg.Response.Value, want)
	}
}

func expectError(t *testing.T, sink *Sink, text string) {
	t.Helper()
	msg := recv(t, sink)
	if msg.Response.Kind != protocol.KindError || msg.Response.Error != text {
		t.Fatalf("Response = %+v, want error %q", msg.Response, text)
	}
}

// expectQuiet syncs with the manager through Stats, after which nothing may
// be queued on sink.
func expectQuiet(t *testing.T, m *Manager, sink *Sink) {
	t.Helper()
	stats(t, m)
	if n := sink.Len(); n != 0 {
		t.Fatalf("sink has %d unexpected messages, first %+v", n, (<-sink.C()).Response)
	}
}

func stats(t *testing.T, m *Manager) Stats {
	t.Helper()
	s, err := m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	return s
}

func TestSingleSubscriberLifecycle(t *testing.T) {
	m, store, _ := startManager(t)
	q := testQuery("messages:list")
	sink := NewSink(0)

	h := attach(t, m, q, sink)
	if !h.Valid() || (Handle{}).Valid() {
		t.Error("only attached handles should be valid")
	}
	if h.Fingerprint() != q.Fingerprint() {
		t.Error("handle fingerprint mismatch")
	}
	id := store.idFor(t, "messages:list")

	hello := codec.Array(codec.Str("hello"))
	store.update(t, id, hello, 10)
	expectKind(t, sink, protocol.KindAdded, hello)

	world := codec.Array(codec.Str("hello"), codec.Str("world"))
	store.update(t, id, world, 11)
	expectKind(t, sink, protocol.KindUpdate, world)

	store.update(t, id, codec.Null(), 12)
	expectKind(t, sink, protocol.KindDeleted, codec.Null())

	if err := m.Detach(context.Background(), h); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	subs, unsubs, active := store.counts()
	if subs != 1 || unsubs != 1 || active != 0 {
		t.Errorf("store counts = (%d, %d, %d), want (1, 1, 0)", subs, unsubs, active)
	}
	if s := stats(t, m); s.Fingerprints != 0 || s.Sinks != 0 {
		t.Errorf("Stats = %+v, want empty", s)
	}
}

func TestIdenticalQueriesShareUpstream(t *testing.T) {
	m, store, _ := startManager(t)
	q := testQuery("messages:list")
	a, b := NewSink(0), NewSink(0)

	ha := attach(t, m, q, a)
	hb := attach(t, m, q, b)

	subs, _, _ := store.counts()
	if subs != 1 {
		t.Fatalf("store subscribes = %d, want 1", subs)
	}
	if s := stats(t, m); s.Refcount(q.Fingerprint()) != 2 {
		t.Fatalf("refcount = %d, want 2", s.Refcount(q.Fingerprint()))
	}

	v := codec.Str("x")
	store.update(t, store.idFor(t, "messages:list"), v, 1)
	expectKind(t, a, protocol.KindAdded, v)
	expectKind(t, b, protocol.KindAdded, v)

	if err := m.Detach(context.Background(), ha); err != nil {
		t.Fatal(err)
	}
	if _, unsubs, _ := store.counts(); unsubs != 0 {
		t.Fatalf("unsubscribe sent while a sink remains")
	}
	if err := m.Detach(context.Background(), hb); err != nil {
		t.Fatal(err)
	}
	if _, unsubs, _ := store.counts(); unsubs != 1 {
		t.Fatalf("store unsubscribes = %d, want 1", unsubs)
	}
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	m, store, _ := startManager(t)
	q := testQuery("messages:list")
	a, b := NewSink(0), NewSink(0)

	attach(t, m, q, a)
	v := codec.Str("x")
	store.update(t, store.idFor(t, "messages:list"), v, 5)
	expectKind(t, a, protocol.KindAdded, v)

	attach(t, m, q, b)
	expectKind(t, b, protocol.KindAdded, v)
	expectQuiet(t, m, a)

	if subs, _, _ := store.counts(); subs != 1 {
		t.Errorf("store subscribes = %d, want 1", subs)
	}
}

func TestAttachIsIdempotentPerSink(t *testing.T) {
	m, _, _ := startManager(t)
	q := testQuery("messages:list")
	sink := NewSink(0)

	h1 := attach(t, m, q, sink)
	h2 := attach(t, m, q, sink)
	if h1 != h2 {
		t.Error("second attach returned a different handle")
	}
	if s := stats(t, m); s.Refcount(q.Fingerprint()) != 1 {
		t.Errorf("refcount = %d, want 1", s.Refcount(q.Fingerprint()))
	}
}

func TestStalePayloadDropped(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)
	id := store.idFor(t, "messages:list")

	store.update(t, id, codec.Int64(1), 100)
	expectKind(t, sink, protocol.KindAdded, codec.Int64(1))

	store.update(t, id, codec.Int64(0), 90)
	expectQuiet(t, m, sink)

	store.update(t, id, codec.Int64(2), 100)
	expectKind(t, sink, protocol.KindUpdate, codec.Int64(2))
}

func TestReconnectDoesNotRedeliverSnapshot(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)
	id := store.idFor(t, "messages:list")

	v := codec.Str("before")
	store.update(t, id, v, 100)
	expectKind(t, sink, protocol.KindAdded, v)

	store.push(t, convex.Event{Kind: convex.EventReconnecting, ErrorMessage: "connection reset"})
	store.push(t, convex.Event{Kind: convex.EventReady})

	store.update(t, id, codec.Str("before"), 101)
	expectQuiet(t, m, sink)

	after := codec.Str("after")
	store.update(t, id, after, 102)
	expectKind(t, sink, protocol.KindUpdate, after)
}

func TestReconnectDeliversChangedSnapshot(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)
	id := store.idFor(t, "messages:list")

	store.update(t, id, codec.Str("a"), 100)
	expectKind(t, sink, protocol.KindAdded, codec.Str("a"))

	store.push(t, convex.Event{Kind: convex.EventReconnecting})
	store.update(t, id, codec.Str("b"), 101)
	expectKind(t, sink, protocol.KindUpdate, codec.Str("b"))
}

func TestRecoveryRedeliversSnapshotAfterStoreError(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)
	id := store.idFor(t, "messages:list")

	x := codec.Str("x")
	store.update(t, id, x, 100)
	expectKind(t, sink, protocol.KindAdded, x)

	store.push(t, convex.Event{Kind: convex.EventReconnecting})
	store.push(t, convex.Event{Kind: convex.EventUnavailable, ErrorMessage: "store unavailable"})
	expectError(t, sink, protocol.ErrMsgUnavailable)
	store.push(t, convex.Event{Kind: convex.EventReady})

	store.update(t, id, codec.Str("x"), 101)
	expectKind(t, sink, protocol.KindUpdate, x)

	// Once recovered, an identical replay is a duplicate again.
	store.push(t, convex.Event{Kind: convex.EventReconnecting})
	store.push(t, convex.Event{Kind: convex.EventReady})
	store.update(t, id, codec.Str("x"), 102)
	expectQuiet(t, m, sink)
}

func TestLateJoinerDuringOutageGetsStoreError(t *testing.T) {
	m, store, _ := startManager(t)
	first := NewSink(0)
	attach(t, m, testQuery("messages:list"), first)
	id := store.idFor(t, "messages:list")

	x := codec.Str("x")
	store.update(t, id, x, 100)
	expectKind(t, first, protocol.KindAdded, x)

	store.push(t, convex.Event{Kind: convex.EventUnavailable, ErrorMessage: "store unavailable"})
	expectError(t, first, protocol.ErrMsgUnavailable)

	late := NewSink(0)
	attach(t, m, testQuery("messages:list"), late)
	expectError(t, late, protocol.ErrMsgUnavailable)
	expectQuiet(t, m, late)

	store.push(t, convex.Event{Kind: convex.EventReady})
	store.update(t, id, codec.Str("x"), 101)
	expectKind(t, first, protocol.KindUpdate, x)
	expectKind(t, late, protocol.KindAdded, x)
}

func TestSlowSinkEvictedWithoutAffectingOthers(t *testing.T) {
	m, store, _ := startManager(t)
	q := testQuery("messages:list")
	slow, fast := NewSink(1), NewSink(0)

	attach(t, m, q, slow)
	attach(t, m, q, fast)
	id := store.idFor(t, "messages:list")

	store.update(t, id, codec.Int64(1), 1)
	store.update(t, id, codec.Int64(2), 2)
	store.update(t, id, codec.Int64(3), 3)

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow sink was not evicted")
	}
	if !errors.Is(slow.Err(), ErrBackpressure) {
		t.Errorf("slow.Err() = %v, want ErrBackpressure", slow.Err())
	}

	expectKind(t, fast, protocol.KindAdded, codec.Int64(1))
	expectKind(t, fast, protocol.KindUpdate, codec.Int64(2))
	expectKind(t, fast, protocol.KindUpdate, codec.Int64(3))

	s := stats(t, m)
	if s.Sinks != 1 || s.Refcount(q.Fingerprint()) != 1 {
		t.Errorf("Stats = %+v, want one remaining sink", s)
	}
	if _, unsubs, _ := store.counts(); unsubs != 0 {
		t.Error("eviction released the shared upstream")
	}

	if _, err := m.Attach(context.Background(), q, slow); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Attach(evicted sink) error = %v, want ErrSinkClosed", err)
	}
}

func TestQueryFailureKeepsSubscription(t *testing.T) {
	m, store, _ := startManager(t)
	q := testQuery("messages:list")
	sink := NewSink(0)
	attach(t, m, q, sink)
	id := store.idFor(t, "messages:list")

	store.push(t, convex.Event{Kind: convex.EventFailed, QueryID: id, ErrorMessage: "Uncaught Error: boom", Timestamp: 1})
	expectError(t, sink, "Uncaught Error: boom")

	late := NewSink(0)
	attach(t, m, q, late)
	expectError(t, late, "Uncaught Error: boom")

	store.update(t, id, codec.Bool(true), 2)
	expectKind(t, sink, protocol.KindAdded, codec.Bool(true))
	expectKind(t, late, protocol.KindAdded, codec.Bool(true))

	if s := stats(t, m); s.Fingerprints != 1 {
		t.Errorf("Fingerprints = %d, want 1", s.Fingerprints)
	}
}

func TestQueryRemovedDeliversDeleted(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)
	id := store.idFor(t, "messages:list")

	store.push(t, convex.Event{Kind: convex.EventRemoved, QueryID: id, Timestamp: 3})
	expectKind(t, sink, protocol.KindDeleted, codec.Null())
}

func TestStoreFailuresReachEverySink(t *testing.T) {
	m, store, _ := startManager(t)
	a, b := NewSink(0), NewSink(0)
	attach(t, m, testQuery("messages:list"), a)
	attach(t, m, testQuery("users:get"), b)

	store.push(t, convex.Event{Kind: convex.EventUnavailable, ErrorMessage: "store unavailable"})
	expectError(t, a, protocol.ErrMsgUnavailable)
	expectError(t, b, protocol.ErrMsgUnavailable)

	c := NewSink(0)
	attach(t, m, testQuery("rooms:list"), c)
	expectError(t, c, protocol.ErrMsgUnavailable)

	store.push(t, convex.Event{Kind: convex.EventReady})
	if s := stats(t, m); s.StoreError != "" {
		t.Errorf("StoreError = %q after Ready, want empty", s.StoreError)
	}

	store.push(t, convex.Event{Kind: convex.EventAuthFailed, ErrorMessage: "store auth failed"})
	expectError(t, a, protocol.ErrMsgAuth)
	expectError(t, b, protocol.ErrMsgAuth)
	expectError(t, c, protocol.ErrMsgAuth)
}

func TestSubscribeFailureReportsToSink(t *testing.T) {
	m, store, _ := startManager(t)
	store.subscribeErr = convex.ErrClosed
	sink := NewSink(0)

	_, err := m.Attach(context.Background(), testQuery("messages:list"), sink)
	if !errors.Is(err, convex.ErrClosed) {
		t.Fatalf("Attach() error = %v, want convex.ErrClosed", err)
	}
	expectError(t, sink, "subscribe failed")
	if s := stats(t, m); s.Fingerprints != 0 {
		t.Errorf("Fingerprints = %d, want 0", s.Fingerprints)
	}
}

func TestUnknownQueryIDIgnored(t *testing.T) {
	m, store, _ := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)

	store.update(t, 999, codec.Str("ghost"), 1)
	expectQuiet(t, m, sink)
}

func TestDetachAllOnlyAffectsOneSession(t *testing.T) {
	m, store, _ := startManager(t)
	shared, private := testQuery("messages:list"), testQuery("users:get")
	a, b := NewSink(0), NewSink(0)

	attach(t, m, shared, a)
	attach(t, m, private, a)
	attach(t, m, shared, b)

	if err := m.DetachAll(context.Background(), a); err != nil {
		t.Fatalf("DetachAll() error = %v", err)
	}

	s := stats(t, m)
	if s.Fingerprints != 1 || s.Refcount(shared.Fingerprint()) != 1 || s.Refcount(private.Fingerprint()) != 0 {
		t.Fatalf("Stats after DetachAll = %+v", s)
	}
	if _, unsubs, _ := store.counts(); unsubs != 1 {
		t.Errorf("store unsubscribes = %d, want 1", unsubs)
	}

	v := codec.Str("still here")
	store.update(t, store.idFor(t, "messages:list"), v, 1)
	expectKind(t, b, protocol.KindAdded, v)
	expectQuiet(t, m, a)
}

func TestRefcountMatchesAttachments(t *testing.T) {
	m, store, _ := startManager(t)
	queries := []protocol.Query{testQuery("a:list"), testQuery("b:list")}
	sinks := []*Sink{NewSink(0), NewSink(0), NewSink(0)}

	type key struct{ q, s int }
	handles := map[key]Handle{}

	ops := []struct {
		q, s   int
		attach bool
	}{
		{0, 0, true}, {0, 1, true}, {1, 1, true}, {0, 2, true},
		{0, 0, false}, {1, 2, true}, {0, 1, false}, {1, 1, false},
		{0, 2, false}, {1, 2, false}, {1, 0, true},
	}

	for i, op := range ops {
		k := key{op.q, op.s}
		if op.attach {
			handles[k] = attach(t, m, queries[op.q], sinks[op.s])
		} else {
			if err := m.Detach(context.Background(), handles[k]); err != nil {
				t.Fatal(err)
			}
			delete(handles, k)
		}

		want := map[int]int{}
		for hk := range handles {
			want[hk.q]++
		}
		s := stats(t, m)
		for qi, q := range queries {
			if got := s.Refcount(q.Fingerprint()); got != want[qi] {
				t.Fatalf("op %d: refcount(%s) = %d, want %d", i, q.Name, got, want[qi])
			}
		}
		subs, unsubs, active := store.counts()
		if subs-unsubs != s.Fingerprints || active != s.Fingerprints {
			t.Fatalf("op %d: store has %d active (%d-%d), manager has %d", i, active, subs, unsubs, s.Fingerprints)
		}
	}
}

func TestRunExitClosesSinks(t *testing.T) {
	m, _, cancel := startManager(t)
	sink := NewSink(0)
	attach(t, m, testQuery("messages:list"), sink)

	cancel()
	select {
	case <-sink.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sink not closed on manager exit")
	}
	if !errors.Is(sink.Err(), ErrManagerStopped) {
		t.Errorf("sink.Err() = %v, want ErrManagerStopped", sink.Err())
	}

	ctx, cancelAttach := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelAttach()
	if _, err := m.Attach(ctx, testQuery("messages:list"), NewSink(0)); !errors.Is(err, ErrManagerStopped) {
		t.Errorf("Attach after stop error = %v, want ErrManagerStopped", err)
	}
}

func TestAttachRejectsInvalidQuery(t *testing.T) {
	m, _, _ := startManager(t)
	if _, err := m.Attach(context.Background(), protocol.Query{}, NewSink(0)); err == nil {
		t.Error("Attach(empty query) succeeded")
	}
	if _, err := m.Attach(context.Background(), testQuery("a:b"), nil); err == nil {
		t.Error("Attach(nil sink) succeeded")
	}
}
