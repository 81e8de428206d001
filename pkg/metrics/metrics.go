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
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsTotal tracks total chat sessions created.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_created_total",
			Help: "Total chat sessions created",
		},
	)

	// SessionsDeleted tracks total chat sessions deleted.
	SessionsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_deleted_total",
			Help: "Total chat sessions deleted",
		},
	)

	// MessagesTotal tracks messages appended, labeled by sender.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages appended",
		},
		[]string{"sender"},
	)

	// StoreWriteFailures tracks session store writes that were rejected.
	StoreWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_store_write_failures_total",
			Help: "Session store writes that failed",
		},
	)

	// LLMRequestDuration tracks LLM completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// SocketReconnects tracks streaming socket reconnect attempts.
	SocketReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_reconnects_total",
			Help: "Streaming socket reconnect attempts",
		},
	)

	// SocketAudioFrames tracks inbound binary audio frames.
	SocketAudioFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_audio_frames_total",
			Help: "Inbound binary audio frames received",
		},
	)

	// SocketState reports the streaming socket connection state
	// (0=disconnected, 1=connecting, 2=connected, 3=error).
	SocketState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "socket_connection_state",
			Help: "Streaming socket connection state",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for an LLM completion call.
func RecordLLMRequest(provider, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
