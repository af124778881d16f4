// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Browser Session Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of browser WebSocket sessions",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of frames sent to browser sessions",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of frames received from browser sessions",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of browser session errors",
		},
		[]string{"error_type"}, // malformed_frame, rate_limited, write, read
	)

	WSSessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_sessions_closed_total",
			Help: "Total number of browser sessions closed, by reason",
		},
		[]string{"reason"}, // client, protocol_error, slow_consumer, rate_limited, shutdown
	)

	// Store Connection Metrics
	StoreConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_connection_state",
			Help: "Store connection state (0=connecting, 1=authenticating, 2=ready, 3=reconnecting, 4=closed)",
		},
	)

	StoreReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_reconnects_total",
			Help: "Total number of store reconnect attempts",
		},
	)

	StoreMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_messages_received_total",
			Help: "Total number of store sync messages received, by type",
		},
		[]string{"type"},
	)

	StoreQuerySetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_query_set_size",
			Help: "Number of queries in the store query set",
		},
	)

	StoreMaxObservedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_max_observed_timestamp",
			Help: "Highest transition timestamp observed from the store",
		},
	)

	// Subscription Manager Metrics
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_upstream_active",
			Help: "Number of fingerprints with at least one attached sink",
		},
	)

	SubscriptionSinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_sinks_active",
			Help: "Number of attached per-client sinks",
		},
	)

	SubscriptionUpstreamOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_upstream_ops_total",
			Help: "Upstream subscribe and unsubscribe operations issued",
		},
		[]string{"op"},
	)

	SubscriptionDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_deliveries_total",
			Help: "Payloads delivered to sinks, by response kind",
		},
		[]string{"kind"},
	)

	SubscriptionDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_dropped_total",
			Help: "Upstream payloads not delivered, by reason",
		},
		[]string{"reason"}, // stale, unknown, duplicate
	)

	SubscriptionEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_sink_evictions_total",
			Help: "Sinks evicted for exceeding their buffer",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordAPIRequest records an HTTP request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight HTTP requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSessionClosed decrements the session gauge and counts the close reason.
func RecordSessionClosed(reason string) {
	WSConnections.Dec()
	WSSessionsClosed.WithLabelValues(reason).Inc()
}

// RecordUpstreamOp counts a subscribe or unsubscribe sent toward the store.
func RecordUpstreamOp(op string) {
	SubscriptionUpstreamOps.WithLabelValues(op).Inc()
}

// RecordDelivery counts a payload handed to a sink.
func RecordDelivery(kind string) {
	SubscriptionDeliveries.WithLabelValues(kind).Inc()
}

// RecordDrop counts an upstream payload that was not delivered.
func RecordDrop(reason string) {
	SubscriptionDropped.WithLabelValues(reason).Inc()
}

// RecordObservedTimestamp publishes the store watermark.
func RecordObservedTimestamp(ts uint64) {
	StoreMaxObservedTimestamp.Set(float64(ts))
}
