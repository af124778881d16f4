// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/syncbridge/internal/config"
	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/subscription"
	"github.com/tomtom215/syncbridge/internal/testinfra"
	"github.com/tomtom215/syncbridge/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testOrigin = "https://app.example.com"

type fakeStoreStatus struct {
	state atomic.Int32
}

func (f *fakeStoreStatus) set(s convex.State)           { f.state.Store(int32(s)) }
func (f *fakeStoreStatus) State() convex.State          { return convex.State(f.state.Load()) }
func (f *fakeStoreStatus) BreakerState() string         { return "closed" }
func (f *fakeStoreStatus) MaxObservedTimestamp() uint64 { return 42 }
func (f *fakeStoreStatus) QueryCount() int              { return 3 }

// testServer is the full HTTP surface over a fake store.
type testServer struct {
	store   *testinfra.FakeStore
	status  *fakeStoreStatus
	manager *subscription.Manager
	hub     *websocket.Hub
	server  *httptest.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{SinkBuffer: 16, FrameRate: 100, FrameBurst: 100},
		Security: config.SecurityConfig{
			CORSOrigins:     []string{testOrigin},
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ts := &testServer{
		store:  testinfra.NewFakeStore(),
		status: &fakeStoreStatus{},
		hub:    websocket.NewHub(),
	}
	ts.status.set(convex.StateReady)
	ts.manager = subscription.NewManager(ts.store)

	var ctx context.Context
	ctx, ts.cancel = context.WithCancel(context.Background())
	ts.wg.Add(2)
	go func() {
		defer ts.wg.Done()
		_ = ts.manager.Run(ctx)
	}()
	go func() {
		defer ts.wg.Done()
		_ = ts.hub.RunWithContext(ctx)
	}()

	handler := NewHandler(cfg, ts.status, ts.manager, ts.hub)
	router := NewRouter(handler, NewChiMiddlewareFromConfig(cfg.Security))
	ts.server = httptest.NewServer(router.SetupChi())

	t.Cleanup(func() {
		ts.stop()
		ts.server.Close()
	})
	return ts
}

// stop halts the manager and hub. It is safe to call more than once.
func (ts *testServer) stop() {
	ts.cancel()
	ts.wg.Wait()
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
}

func getJSON(t *testing.T, url string) (int, APIResponse, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body, resp.Header
}

// dataField extracts a top-level key of the response data.
func dataField(t *testing.T, body APIResponse, key string) interface{} {
	t.Helper()
	m, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", body.Data)
	}
	return m[key]
}
