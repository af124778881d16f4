// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//   - Store: the upstream reactive store connection
//   - Sync: per-session fanout and inbound frame limits
//   - Server: HTTP listener and timeouts
//   - Security: CORS and HTTP rate limiting
//   - Logging: log levels and output formats
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StoreConfig configures the upstream store connection.
type StoreConfig struct {
	// URL is the deployment URL (https://...) or its sync endpoint (wss://...).
	URL string `koanf:"url" validate:"required"`

	// ClientID identifies this server process to the store. Empty means a
	// random id per process.
	ClientID string `koanf:"client_id"`

	// AuthToken is an optional JWT presented after every connect.
	AuthToken string `koanf:"auth_token"`

	BackoffMin    time.Duration `koanf:"backoff_min" validate:"gt=0"`
	BackoffMax    time.Duration `koanf:"backoff_max" validate:"gt=0"`
	BackoffJitter float64       `koanf:"backoff_jitter" validate:"gte=0,lt=1"`

	// MaxDowntime is how long the store may be unreachable before clients
	// are told it is unavailable.
	MaxDowntime time.Duration `koanf:"max_downtime" validate:"gt=0"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`
	InactivityTimeout time.Duration `koanf:"inactivity_timeout" validate:"gt=0"`
	HandshakeTimeout  time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	EventBuffer     int           `koanf:"event_buffer" validate:"gte=1"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// SyncConfig configures browser sessions.
type SyncConfig struct {
	// SinkBuffer is how many messages a session may fall behind before it
	// is closed as a slow consumer.
	SinkBuffer int `koanf:"sink_buffer" validate:"gte=1,lte=65536"`

	// FrameRate and FrameBurst bound inbound client frames per session.
	FrameRate  float64 `koanf:"frame_rate" validate:"gt=0"`
	FrameBurst int     `koanf:"frame_burst" validate:"gte=1"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // "development", "staging" or "production"
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SecurityConfig holds browser-facing protection settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}

// Load loads and validates configuration.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
