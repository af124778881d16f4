// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package convex implements the client side of the reactive store's WebSocket
sync protocol over a single durable connection.

# Connection Lifecycle

	Connecting -> Authenticating -> Ready -> (Ready | Reconnecting) -> Closed

Connecting dials the sync endpoint through a circuit breaker. Authenticating
writes the Connect hello (session id, connection count, last close reason and
the highest timestamp ever observed), an Authenticate frame when a token is
set, and the whole live query set as one ModifyQuerySet. Ready forwards
query-set changes and parses server Transitions. Any transport failure,
protocol desync, FatalError or heartbeat silence moves to Reconnecting, which
emits exactly one EventReconnecting and redials with jittered exponential
backoff. An AuthError is terminal: EventAuthFailed is emitted once and the
client closes.

# Query Ids

Query ids are assigned locally and stay stable across reconnects; the replayed
query set reuses them, so consumers never need to re-key.

# Timestamps

Every Transition carries an end timestamp. The client keeps the maximum it has
observed and sends it in every Connect so the store can resume at or after
that point. Transitions whose start version does not match the last
acknowledged version indicate a desync and force a reconnect.

# Usage

	client := convex.NewClient(convex.Config{URL: "https://happy-otter-123.convex.cloud", ClientID: "syncbridge-1"})
	go client.Run(ctx)

	id, err := client.Subscribe("messages:list", args)
	for ev := range client.Events() {
	    ...
	}
*/
package convex
