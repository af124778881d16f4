// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/syncbridge/internal/convex"
	"github.com/tomtom215/syncbridge/internal/logging"
	"github.com/tomtom215/syncbridge/internal/subscription"
)

// statsTimeout bounds how long a probe waits on the manager loop.
const statsTimeout = 2 * time.Second

// StoreHealth is the store section of the health payload.
type StoreHealth struct {
	State                string `json:"state"`
	CircuitBreaker       string `json:"circuit_breaker"`
	MaxObservedTimestamp uint64 `json:"max_observed_timestamp"`
	Queries              int    `json:"queries"`
}

// HealthStatus is the payload of the detailed health endpoint.
type HealthStatus struct {
	Ready         bool                `json:"ready"`
	Store         *StoreHealth        `json:"store,omitempty"`
	Subscriptions *subscription.Stats `json:"subscriptions,omitempty"`
	Sessions      int                 `json:"sessions"`
	Uptime        float64             `json:"uptime_seconds"`
}

// HealthLive handles liveness probe requests.
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probe requests.
// Returns 200 only when the store connection is Ready, the subscription
// manager is answering, and no store-wide error is being broadcast.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := h.collect(r.Context())
	rw := NewResponseWriter(w, r)
	if !status.Ready {
		rw.ErrorWithData(http.StatusServiceUnavailable, ErrCodeNotReady, "Service is not ready", status)
		return
	}
	rw.Success(status)
}

// Health returns the detailed status. It always answers 200 so dashboards
// can render a degraded state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.collect(r.Context()))
}

func (h *Handler) collect(ctx context.Context) HealthStatus {
	status := HealthStatus{Uptime: time.Since(h.startTime).Seconds()}

	storeReady := false
	if h.store != nil {
		state := h.store.State()
		storeReady = state == convex.StateReady
		status.Store = &StoreHealth{
			State:                state.String(),
			CircuitBreaker:       h.store.BreakerState(),
			MaxObservedTimestamp: h.store.MaxObservedTimestamp(),
			Queries:              h.store.QueryCount(),
		}
	}

	managerReady := false
	if h.manager != nil {
		ctx, cancel := context.WithTimeout(ctx, statsTimeout)
		defer cancel()
		stats, err := h.manager.Stats(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Subscription manager did not answer health probe")
		} else {
			status.Subscriptions = &stats
			managerReady = stats.StoreError == ""
		}
	}

	if h.hub != nil {
		status.Sessions = h.hub.SessionCount()
	}

	status.Ready = storeReady && managerReady
	return status
}
