// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package api

import (
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/websocket"
)

// WebSocket upgrades a browser connection into a sync session.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil || h.manager == nil {
		logging.Warn().Msg("WebSocket connection rejected: sync service not initialized")
		NewResponseWriter(w, r).ServiceUnavailable("WebSocket service unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	session := websocket.NewSession(h.hub, conn, h.manager, h.sessionConfig())
	if err := h.hub.Register(r.Context(), session); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket session rejected: hub not running")
		msg := gorilla.FormatCloseMessage(gorilla.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	session.Start()
}
