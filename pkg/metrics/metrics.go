// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localchat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localchat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionDuration tracks how long a streaming session runs from start to finalize.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localchat_session_duration_seconds",
			Help:    "Streaming session duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// SessionsActive tracks sessions currently registered.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localchat_sessions_active",
			Help: "Number of in-flight streaming sessions",
		},
	)

	// PartialUpdatesTotal tracks partial answer notifications by routing decision.
	PartialUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localchat_partial_updates_total",
			Help: "Partial answer notifications by routing outcome",
		},
		[]string{"routing"},
	)

	// StoreTxDuration tracks store transaction latency.
	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localchat_store_transaction_duration_seconds",
			Help:    "Conversation store transaction duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localchat_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localchat_conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localchat_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// MirrorPublishedTotal tracks events mirrored to NATS.
	MirrorPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localchat_mirror_published_total",
			Help: "Session events mirrored to NATS",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSession records metrics for a finished streaming session.
func RecordSession(model, status string, duration float64) {
	SessionDuration.WithLabelValues(model, status).Observe(duration)
}

// RecordStoreTx records metrics for a store transaction.
func RecordStoreTx(op string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreTxDuration.WithLabelValues(op, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
