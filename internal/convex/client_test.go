// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/codec"
	"github.com/tomtom215/syncbridge/internal/logging"
)

//nolint:gochecknoinits // quiet logs for the whole package
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// mockStore simulates the store's sync endpoint.
type mockStore struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *storeConn
}

type storeConn struct {
	conn   *websocket.Conn
	header http.Header
}

func newMockStore(t *testing.T) *mockStore {
	t.Helper()
	m := &mockStore{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *storeConn, 4),
	}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync" {
			http.NotFound(w, r)
			return
		}
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- &storeConn{conn: conn, header: r.Header.Clone()}
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockStore) accept(t *testing.T) *storeConn {
	t.Helper()
	select {
	case c := <-m.conns:
		t.Cleanup(func() { _ = c.conn.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("store did not receive a connection")
		return nil
	}
}

func (s *storeConn) read(t *testing.T) map[string]any {
	t.Helper()
	if err := s.conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		t.Fatalf("store read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("store decode %s: %v", data, err)
	}
	return msg
}

func (s *storeConn) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	msg := s.read(t)
	if msg["type"] != typ {
		t.Fatalf("expected %s, got %v", typ, msg)
	}
	return msg
}

func (s *storeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("store write: %v", err)
	}
}

func transition(start, end StateVersion, mods ...stateModification) serverMessage {
	return serverMessage{Type: msgTransition, StartVersion: start, EndVersion: end, Modifications: mods}
}

func updated(t *testing.T, id QueryID, v codec.Value) stateModification {
	t.Helper()
	raw, err := codec.MarshalWire(v)
	if err != nil {
		t.Fatal(err)
	}
	return stateModification{Type: modQueryUpdated, QueryID: id, Value: raw}
}

func newTestClient(t *testing.T, url string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		URL:               url,
		ClientID:          "test-client",
		BackoffMin:        10 * time.Millisecond,
		BackoffMax:        40 * time.Millisecond,
		HeartbeatInterval: time.Second,
		InactivityTimeout: 5 * time.Second,
		BreakerFailures:   100,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func runClient(t *testing.T, c *Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not stop")
		}
	})
	return done
}

func nextEvent(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func TestHandshakeSendsConnectThenQuerySet(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)

	id, err := c.Subscribe("messages:list", codec.Object(map[string]codec.Value{"k": codec.Int64(1)}))
	if err != nil {
		t.Fatal(err)
	}
	runClient(t, c)
	sc := store.accept(t)

	if got := sc.header.Get(clientHeader); got != clientVersion {
		t.Errorf("expected %s header %q, got %q", clientHeader, clientVersion, got)
	}

	hello := sc.expect(t, "Connect")
	if hello["connectionCount"] != float64(0) {
		t.Errorf("connectionCount = %v, want 0", hello["connectionCount"])
	}
	if hello["lastCloseReason"] != "InitialConnect" {
		t.Errorf("lastCloseReason = %v", hello["lastCloseReason"])
	}
	if _, ok := hello["maxObservedTimestamp"]; ok {
		t.Error("first Connect must not carry a timestamp")
	}
	if hello["sessionId"] != sessionIDFor("test-client") {
		t.Errorf("sessionId = %v", hello["sessionId"])
	}

	mqs := sc.expect(t, "ModifyQuerySet")
	if mqs["baseVersion"] != float64(0) || mqs["newVersion"] != float64(1) {
		t.Errorf("unexpected versions: %v", mqs)
	}
	mods := mqs["modifications"].([]any)
	if len(mods) != 1 {
		t.Fatalf("expected one modification, got %v", mods)
	}
	add := mods[0].(map[string]any)
	if add["type"] != "Add" || add["queryId"] != float64(id) || add["udfPath"] != "messages:list" {
		t.Errorf("unexpected Add: %v", add)
	}
	args := add["args"].([]any)[0].(map[string]any)
	if k := args["k"].(map[string]any); k["$integer"] != codec.EncodeLE64(1) {
		t.Errorf("argument not wire encoded: %v", args)
	}

	nextEvent(t, c, EventReady)
	if c.State() != StateReady {
		t.Errorf("state = %s, want ready", c.State())
	}
}

func TestTransitionEmitsUpdates(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	id, _ := c.Subscribe("q", codec.Null())
	runClient(t, c)
	sc := store.accept(t)
	sc.expect(t, "Connect")
	sc.expect(t, "ModifyQuerySet")
	nextEvent(t, c, EventReady)

	v1 := StateVersion{QuerySet: 1, TS: 10}
	sc.send(t, transition(StateVersion{}, v1, updated(t, id, codec.Str("a"))))
	v2 := StateVersion{QuerySet: 1, TS: 11}
	sc.send(t, transition(v1, v2,
		updated(t, 999, codec.Str("ignored")),
		stateModification{Type: modQueryFailed, QueryID: id, ErrorMessage: "boom"},
	))
	sc.send(t, transition(v2, StateVersion{QuerySet: 1, TS: 12}, stateModification{Type: modQueryRemoved, QueryID: id}))

	ev := nextEvent(t, c, EventUpdated)
	if s, _ := ev.Value.AsString(); s != "a" || ev.Timestamp != 10 || ev.QueryID != id {
		t.Errorf("unexpected update: %+v", ev)
	}
	ev = nextEvent(t, c, EventFailed)
	if ev.ErrorMessage != "boom" || ev.Timestamp != 11 {
		t.Errorf("unexpected failure: %+v", ev)
	}
	ev = nextEvent(t, c, EventRemoved)
	if ev.QueryID != id {
		t.Errorf("unexpected removal: %+v", ev)
	}
	if got := c.MaxObservedTimestamp(); got != 12 {
		t.Errorf("MaxObservedTimestamp = %d, want 12", got)
	}
}

func TestReconnectReplaysTimestampAndQueries(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	id, _ := c.Subscribe("q", codec.Object(map[string]codec.Value{"k": codec.Int64(1)}))
	runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	sc.expect(t, "ModifyQuerySet")
	nextEvent(t, c, EventReady)
	sc.send(t, transition(StateVersion{}, StateVersion{QuerySet: 1, TS: 100}, updated(t, id, codec.Str("x"))))
	nextEvent(t, c, EventUpdated)

	_ = sc.conn.Close()
	nextEvent(t, c, EventReconnecting)

	sc2 := store.accept(t)
	hello := sc2.expect(t, "Connect")
	if hello["maxObservedTimestamp"] != codec.EncodeLE64(100) {
		t.Errorf("reconnect hello timestamp = %v, want ts 100", hello["maxObservedTimestamp"])
	}
	if hello["connectionCount"] != float64(1) {
		t.Errorf("connectionCount = %v, want 1", hello["connectionCount"])
	}
	if hello["lastCloseReason"] == "InitialConnect" {
		t.Error("lastCloseReason should describe the dropped connection")
	}
	mqs := sc2.expect(t, "ModifyQuerySet")
	add := mqs["modifications"].([]any)[0].(map[string]any)
	if add["queryId"] != float64(id) {
		t.Errorf("replayed query id = %v, want %d", add["queryId"], id)
	}
	nextEvent(t, c, EventReady)

	sc2.send(t, transition(StateVersion{}, StateVersion{QuerySet: 1, TS: 101}, updated(t, id, codec.Str("y"))))
	ev := nextEvent(t, c, EventUpdated)
	if ev.Timestamp != 101 {
		t.Errorf("post-reconnect timestamp = %d, want 101", ev.Timestamp)
	}
}

func TestDesyncForcesReconnect(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	nextEvent(t, c, EventReady)

	sc.send(t, transition(StateVersion{QuerySet: 7, TS: 3}, StateVersion{QuerySet: 8, TS: 4}))

	ev := nextEvent(t, c, EventReconnecting)
	if !strings.Contains(ev.ErrorMessage, errDesync.Error()) {
		t.Errorf("expected desync reason, got %+v", ev)
	}
	store.accept(t).expect(t, "Connect")
}

func TestUnexpectedMessageForcesReconnect(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	nextEvent(t, c, EventReady)

	sc.send(t, map[string]any{"type": "Ping"})
	sc.send(t, map[string]any{"type": "MutationResponse", "requestId": 1})

	nextEvent(t, c, EventReconnecting)
	store.accept(t).expect(t, "Connect")
}

func TestIncrementalQuerySetChanges(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	nextEvent(t, c, EventReady)

	id, err := c.Subscribe("channels", codec.Null())
	if err != nil {
		t.Fatal(err)
	}
	add := sc.expect(t, "ModifyQuerySet")
	if add["baseVersion"] != float64(0) || add["newVersion"] != float64(1) {
		t.Errorf("unexpected add versions: %v", add)
	}
	mod := add["modifications"].([]any)[0].(map[string]any)
	if mod["udfPath"] != "channels:default" {
		t.Errorf("udfPath = %v", mod["udfPath"])
	}
	if args := mod["args"].([]any); len(args) != 1 {
		t.Errorf("null args should become one empty object, got %v", args)
	}

	if err := c.Unsubscribe(id); err != nil {
		t.Fatal(err)
	}
	remove := sc.expect(t, "ModifyQuerySet")
	if remove["baseVersion"] != float64(1) || remove["newVersion"] != float64(2) {
		t.Errorf("unexpected remove versions: %v", remove)
	}
	rm := remove["modifications"].([]any)[0].(map[string]any)
	if rm["type"] != "Remove" || rm["queryId"] != float64(id) {
		t.Errorf("unexpected Remove: %v", rm)
	}
	if _, ok := rm["udfPath"]; ok {
		t.Error("Remove must not carry udfPath")
	}

	if err := c.Unsubscribe(id); err != nil {
		t.Errorf("second Unsubscribe should be ignored, got %v", err)
	}
	if c.QueryCount() != 0 {
		t.Errorf("QueryCount = %d, want 0", c.QueryCount())
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestAuthErrorIsTerminal(t *testing.T) {
	store := newMockStore(t)
	token := signedToken(t, time.Now().Add(time.Hour))
	c := newTestClient(t, store.server.URL, func(cfg *Config) { cfg.AuthToken = token })
	done := runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	auth := sc.expect(t, "Authenticate")
	if auth["tokenType"] != "User" || auth["value"] != token || auth["baseVersion"] != float64(0) {
		t.Errorf("unexpected Authenticate: %v", auth)
	}

	sc.send(t, map[string]any{"type": "AuthError", "error": "bad token", "baseVersion": 0})

	nextEvent(t, c, EventAuthFailed)
	select {
	case err := <-done:
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Run returned %v, want ErrAuthFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after auth failure")
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
	if _, err := c.Subscribe("q", codec.Null()); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after auth failure = %v, want ErrClosed", err)
	}
}

func TestSetAuthWhileReady(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	runClient(t, c)

	sc := store.accept(t)
	sc.expect(t, "Connect")
	nextEvent(t, c, EventReady)

	token := signedToken(t, time.Now().Add(time.Hour))
	if err := c.SetAuth(token); err != nil {
		t.Fatal(err)
	}
	auth := sc.expect(t, "Authenticate")
	if auth["value"] != token {
		t.Errorf("unexpected Authenticate: %v", auth)
	}

	if err := c.SetAuth(""); err != nil {
		t.Fatal(err)
	}
	logout := sc.expect(t, "Authenticate")
	if logout["tokenType"] != "None" || logout["baseVersion"] != float64(1) {
		t.Errorf("unexpected logout: %v", logout)
	}

	if err := c.SetAuth(signedToken(t, time.Now().Add(-time.Minute))); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: got %v, want ErrTokenExpired", err)
	}
}

func TestUnavailableAfterDowntime(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	c := newTestClient(t, url, func(cfg *Config) { cfg.MaxDowntime = 50 * time.Millisecond })
	runClient(t, c)

	ev := nextEvent(t, c, EventUnavailable)
	if ev.ErrorMessage != "store unavailable" {
		t.Errorf("unexpected message %q", ev.ErrorMessage)
	}
	if c.State() != StateConnecting {
		t.Errorf("state = %s, want connecting", c.State())
	}

	select {
	case ev := <-c.Events():
		if ev.Kind == EventUnavailable {
			t.Error("EventUnavailable must be emitted once per outage")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseStopsRun(t *testing.T) {
	store := newMockStore(t)
	c := newTestClient(t, store.server.URL)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	store.accept(t).expect(t, "Connect")
	nextEvent(t, c, EventReady)

	_ = c.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
	if _, err := c.Subscribe("q", codec.Null()); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{ClientID: "c"}},
		{"missing client id", Config{URL: "https://example.convex.cloud"}},
		{"bad scheme", Config{URL: "ftp://example", ClientID: "c"}},
		{"no host", Config{URL: "wss://", ClientID: "c"}},
		{"malformed token", Config{URL: "https://example.convex.cloud", ClientID: "c", AuthToken: "not-a-jwt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildSyncURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://happy-otter-123.convex.cloud", "wss://happy-otter-123.convex.cloud/api/sync"},
		{"http://localhost:3210/", "ws://localhost:3210/api/sync"},
		{"wss://example.com/api/1.9/sync", "wss://example.com/api/1.9/sync"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := buildSyncURL(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("buildSyncURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSessionIDFor(t *testing.T) {
	if sessionIDFor("a") != sessionIDFor("a") {
		t.Error("session id must be stable for a client id")
	}
	if sessionIDFor("a") == sessionIDFor("b") {
		t.Error("different client ids must not collide")
	}
	const fixed = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if sessionIDFor(fixed) != fixed {
		t.Error("a UUID client id should be used as-is")
	}
}

func TestCanonicalUDFPath(t *testing.T) {
	tests := map[string]string{
		"messages:list":    "messages:list",
		"messages":         "messages:default",
		"messages.js:list": "messages:list",
		"dir/mod:":         "dir/mod:default",
	}
	for in, want := range tests {
		if got := CanonicalUDFPath(in); got != want {
			t.Errorf("CanonicalUDFPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateVersionJSON(t *testing.T) {
	data, err := json.Marshal(StateVersion{QuerySet: 2, Identity: 1, TS: 100})
	if err != nil {
		t.Fatal(err)
	}
	var back StateVersion
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != (StateVersion{QuerySet: 2, Identity: 1, TS: 100}) {
		t.Errorf("round trip mismatch: %+v from %s", back, data)
	}
	if err := json.Unmarshal([]byte(`{"querySet":1,"identity":0,"ts":"AQ=="}`), &back); !errors.Is(err, codec.ErrMalformedTaggedValue) {
		t.Errorf("expected malformed ts error, got %v", err)
	}
}
