// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package metrics provides the Prometheus collectors exported at /metrics.

Collectors are package-level promauto variables so any package can record
without plumbing a registry through constructors.

# Families

  - api_*: HTTP request latency and throughput
  - websocket_*: browser session counts, frames and close reasons
  - store_*: store connection state, reconnects, watermark
  - subscriptions_*: upstream fan-in, sink fan-out, drops and evictions
  - circuit_breaker_*: store dial breaker state

# Example Queries

Sessions evicted as slow consumers in the last hour:

	increase(websocket_sessions_closed_total{reason="slow_consumer"}[1h])

Fan-out ratio:

	subscriptions_sinks_active / subscriptions_upstream_active
*/
package metrics
