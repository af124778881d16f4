// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package middleware provides HTTP middleware components for the application.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging
    context as request_id and correlation_id
  - Prometheus Metrics: HTTP request/response instrumentation labelled by
    chi route pattern

Both are written as func(http.HandlerFunc) http.HandlerFunc and adapted to
chi's r.Use by the api package.

The metrics wrapper implements http.Hijacker, so it can sit in front of the
WebSocket endpoint; an upgraded request is recorded with status 101 when the
handler returns, which is when the session's pumps have been started.
*/
package middleware
