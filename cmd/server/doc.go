// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package main is the entry point for the Syncbridge sync server.

Syncbridge holds one connection to a reactive store and fans query results
out to browser clients over WebSocket. Identical queries from any number of
clients share a single upstream subscription.

# Application Architecture

	RootSupervisor ("syncbridge")
	├── DataSupervisor ("data-layer")
	│   └── Store client (reconnects with backoff, circuit breaker on dial)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Subscription manager (dedup, cache, fan-out)
	│   └── WebSocket hub (session registry)
	└── APISupervisor ("api-layer")
	    └── HTTP server (/ws, health probes, /metrics)

Initialization order:

 1. Configuration: Koanf v2 from defaults, config file and environment
 2. Logging: zerolog
 3. Store client
 4. Subscription manager and hub
 5. HTTP handler, Chi router and middleware
 6. Supervisor tree

# Configuration

Priority: Environment variables > Config file > Defaults

	STORE_URL=https://happy-otter-123.convex.cloud   # required (alias CONVEX_URL)
	STORE_AUTH_TOKEN=<jwt>                           # optional
	HTTP_PORT=3210
	CORS_ORIGINS=https://app.example.com
	LOG_LEVEL=info
	LOG_FORMAT=json

See internal/config for the full list.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains for
SHUTDOWN_TIMEOUT, the hub closes every session with 1001, and the
subscription manager releases all upstream subscriptions.
*/
package main
