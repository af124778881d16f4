// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

// Package testinfra provides in-process fixtures for tests that need a
// running sync server without a real store.
//
// # FakeStore
//
// FakeStore implements subscription.Store. Tests drive it by pushing store
// events, and inspect the query set it was asked to hold:
//
//	store := testinfra.NewFakeStore()
//	srv := testinfra.NewSyncServer(t, store, websocket.SessionConfig{})
//
//	// ... a client subscribes through srv.URL() ...
//	id := store.WaitForQuery(t, "messages:list")
//	store.Update(t, id, codec.Str("hello"), 1)
//
// # SyncServer
//
// SyncServer wires a subscription manager, a session hub and an httptest
// server that upgrades every request into a session. Everything is torn
// down by t.Cleanup.
//
// The fixtures cannot be used from the subscription or websocket packages'
// own tests, since they import both.
package testinfra
