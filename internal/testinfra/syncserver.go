// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package testinfra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gorilla "github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/subscription"
	"github.com/tomtom215/syncbridge/internal/websocket"
)

// SyncServer is a manager, hub and session endpoint on an httptest server.
type SyncServer struct {
	Manager *subscription.Manager
	Hub     *websocket.Hub
	Server  *httptest.Server
}

// NewSyncServer starts a SyncServer over store.
func NewSyncServer(t testing.TB, store subscription.Store, cfg websocket.SessionConfig) *SyncServer {
	t.Helper()

	s := &SyncServer{
		Manager: subscription.NewManager(store),
		Hub:     websocket.NewHub(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.Manager.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = s.Hub.RunWithContext(ctx)
	}()

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := gorilla.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session := websocket.NewSession(s.Hub, conn, s.Manager, cfg)
		if err := s.Hub.Register(r.Context(), session); err != nil {
			_ = conn.Close()
			return
		}
		session.Start()
	}))

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		s.Server.Close()
	})
	return s
}

// URL returns the ws:// address of the session endpoint.
func (s *SyncServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Stats fetches manager stats, failing the test on error.
func (s *SyncServer) Stats(t testing.TB) subscription.Stats {
	t.Helper()
	st, err := s.Manager.Stats(context.Background())
	if err != nil {
		t.Fatalf("manager stats: %v", err)
	}
	return st
}
