// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package api provides the HTTP surface of the sync server.

Key Components:

  - Router: chi route configuration and middleware stack
  - Handler: health probes and the WebSocket upgrade
  - ResponseWriter: standardized JSON envelope for non-WebSocket responses
  - ChiMiddleware: CORS (go-chi/cors) and per-IP rate limiting (go-chi/httprate)

Routes:

	GET /api/v1/health/live    process is up
	GET /api/v1/health/ready   store connection is Ready and the manager answers
	GET /api/v1/health         detailed status (store, breaker, subscriptions, sessions)
	GET /ws                    browser session upgrade
	GET /metrics               Prometheus scrape endpoint

Middleware Stack:

Applied globally, in order: request id with logging context, RealIP,
Recoverer, CORS. Health routes get a permissive rate limit; /ws gets the
configured per-IP limit, which bounds reconnect storms. Inbound frames on
an established session are limited separately by the session itself.

WebSocket origin checking:

Browsers always send Origin on WebSocket upgrades. Upgrades without one are
rejected, and the origin must match an entry of CORS_ORIGINS (or "*").
*/
package api
