// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package api

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode"

	gorilla "github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/config"
	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/subscription"
	"github.com/tomtom215/syncbridge/internal/websocket"
)

// StoreStatus is the read-only view of the store connection the probes use.
type StoreStatus interface {
	State() convex.State
	BreakerState() string
	MaxObservedTimestamp() uint64
	QueryCount() int
}

// SyncManager is what the handlers need from subscription.Manager.
type SyncManager interface {
	websocket.Manager
	Stats(ctx context.Context) (subscription.Stats, error)
}

// Handler serves the HTTP endpoints.
type Handler struct {
	config    *config.Config
	store     StoreStatus
	manager   SyncManager
	hub       *websocket.Hub
	startTime time.Time
}

// NewHandler creates a Handler. cfg may be nil in tests, in which case any
// browser origin is accepted and session limits take their defaults.
func NewHandler(cfg *config.Config, store StoreStatus, manager SyncManager, hub *websocket.Hub) *Handler {
	return &Handler{
		config:    cfg,
		store:     store,
		manager:   manager,
		hub:       hub,
		startTime: time.Now(),
	}
}

// sessionConfig maps sync settings onto per-session limits.
func (h *Handler) sessionConfig() websocket.SessionConfig {
	if h.config == nil {
		return websocket.SessionConfig{}
	}
	return websocket.SessionConfig{
		SinkBuffer: h.config.Sync.SinkBuffer,
		FrameRate:  h.config.Sync.FrameRate,
		FrameBurst: h.config.Sync.FrameBurst,
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() gorilla.Upgrader {
	return gorilla.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Browsers always send Origin on upgrades. Allowing an empty one would
	// bypass the origin allowlist entirely.
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return true
	}

	for _, allowedOrigin := range h.config.Security.CORSOrigins {
		if allowedOrigin == "*" || strings.EqualFold(allowedOrigin, origin) {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// maxLogValueLength bounds client-supplied values written to logs.
const maxLogValueLength = 200

// sanitizeLogValue strips control characters so client input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	if len(s) > maxLogValueLength {
		s = s[:maxLogValueLength]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
