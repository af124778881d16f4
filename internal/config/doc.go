// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

/*
Package config provides centralized configuration management for Syncbridge.

Configuration is layered with Koanf v2: built-in defaults, then an optional
YAML file (CONFIG_PATH, ./config.yaml or /etc/syncbridge/config.yaml), then
environment variables. Load validates the result with struct tags
(go-playground/validator) and a set of cross-field checks.

# Environment Variables

Store connection (StoreConfig):
  - STORE_URL (or CONVEX_URL): deployment URL or sync endpoint (required)
  - STORE_CLIENT_ID: stable client identity (default: random per process)
  - STORE_AUTH_TOKEN: JWT presented after each connect
  - STORE_BACKOFF_MIN / STORE_BACKOFF_MAX: reconnect backoff (default: 250ms / 10s)
  - STORE_BACKOFF_JITTER: randomization factor in [0,1) (default: 0.2)
  - STORE_MAX_DOWNTIME: outage before clients see "store unavailable" (default: 30s)
  - STORE_HEARTBEAT_INTERVAL: ping interval (default: 5s)
  - STORE_INACTIVITY_TIMEOUT: silence before reconnecting (default: 30s)
  - STORE_HANDSHAKE_TIMEOUT: dial timeout (default: 10s)
  - STORE_EVENT_BUFFER: adapter event queue depth (default: 256)
  - STORE_BREAKER_FAILURES / STORE_BREAKER_TIMEOUT: dial circuit breaker (default: 5 / 30s)

Browser sessions (SyncConfig):
  - SYNC_SINK_BUFFER: messages a session may lag before eviction (default: 64)
  - SYNC_FRAME_RATE / SYNC_FRAME_BURST: inbound frame limit per session (default: 50/s, 100)

HTTP Server (ServerConfig):
  - HTTP_HOST / HTTP_PORT: bind address (default: 0.0.0.0:3210)
  - HTTP_READ_TIMEOUT / HTTP_WRITE_TIMEOUT / HTTP_IDLE_TIMEOUT
  - SHUTDOWN_TIMEOUT: graceful shutdown budget (default: 10s)
  - ENVIRONMENT: development, staging or production

Security (SecurityConfig):
  - CORS_ORIGINS: comma-separated allowed origins (default: *)
  - RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW: per-IP HTTP limit (default: 100 per 1m)
  - DISABLE_RATE_LIMIT: turn HTTP rate limiting off

Logging (LoggingConfig):
  - LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - LOG_FORMAT: json or console (default: json)
  - LOG_CALLER: include file:line (default: false)

# Usage

	cfg, err := config.Load()
	if err != nil {
	    logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	srv := &http.Server{Addr: cfg.Server.Addr()}

Config is immutable after Load and safe for concurrent reads.
*/
package config
