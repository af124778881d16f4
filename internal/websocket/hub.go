// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncbridge/internal/logging"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// ErrHubStopped is returned by Register once the hub has shut down.
var ErrHubStopped = errors.New("websocket hub stopped")

// Hub tracks live browser sessions so they can be counted and closed
// together on shutdown.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	mu         sync.RWMutex

	lifecycle sync.Mutex
	stopped   chan struct{}
}

// NewHub creates a new Hub. Sessions can register once RunWithContext is running.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
	}
}

// Register adds s to the hub. It waits for the hub loop and fails with
// ErrHubStopped if the hub has exited.
func (h *Hub) Register(ctx context.Context, s *Session) error {
	select {
	case h.register <- s:
		return nil
	case <-h.stoppedChan():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes s. It never blocks once the hub has stopped.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.stoppedChan():
	}
}

func (h *Hub) stoppedChan() <-chan struct{} {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.stopped
}

// RunWithContext runs the registration loop until ctx is cancelled, then
// closes every session with 1001 (going away) and returns ctx.Err().
//
// DETERMINISM: shutdown is checked first on every iteration, then pending
// registrations, so a cancelled hub never accepts another session.
func (h *Hub) RunWithContext(ctx context.Context) error {
	stopped := make(chan struct{})
	h.lifecycle.Lock()
	h.stopped = stopped
	h.lifecycle.Unlock()
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			total := len(h.sessions)
			h.mu.Unlock()
			logging.Debug().Uint64("session_id", s.ID()).Int("total_sessions", total).Msg("websocket session registered")

		case s := <-h.unregister:
			h.mu.Lock()
			delete(h.sessions, s)
			total := len(h.sessions)
			h.mu.Unlock()
			logging.Debug().Uint64("session_id", s.ID()).Int("total_sessions", total).Msg("websocket session unregistered")
		}
	}
}

// logGracefulShutdown closes all sessions and logs the shutdown. ctx.Err()
// is not logged as an error since cancellation is the expected path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	count := h.closeAllSessions()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("sessions_closed", count).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllSessions closes sessions in ID order and empties the registry.
func (h *Hub) closeAllSessions() int {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[*Session]bool)
	h.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].id < sessions[j].id
	})
	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, "server shutting down", closeReasonShutdown)
	}
	return len(sessions)
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
