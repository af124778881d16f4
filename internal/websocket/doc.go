// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package websocket serves browser sessions over gorilla/websocket.

Key Components:

  - Hub: registry of live sessions, closed together on shutdown
  - Session: one browser connection with a read pump and a write pump

Each session owns one subscription.Sink. The read pump decodes
Subscribe/Unsubscribe frames (see package protocol) and attaches or
detaches that sink on the subscription manager; the write pump is the only
goroutine writing data frames, so frames for a query arrive in the order
the manager produced them.

Close codes:

	1002 protocol error    malformed or binary frame
	1008 policy violation  inbound rate limit exceeded, or slow consumer
	1001 going away        server shutting down

When a session ends for any reason every subscription it held is detached;
no other session is affected.

Timing:

	pong wait   60s   read deadline, extended by every pong
	ping period 54s
	write wait  10s
	max frame   512 KB

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	session := websocket.NewSession(hub, conn, manager, websocket.SessionConfig{})
	if err := hub.Register(r.Context(), session); err != nil {
	    conn.Close()
	    return
	}
	session.Start()
*/
package websocket
