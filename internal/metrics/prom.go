package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "plannerbridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plannerbridge_requests_total",
			Help: "Bridge requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plannerbridge_request_duration_seconds",
			Help:    "Time from sending a request frame to its terminal frame",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	streamTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plannerbridge_stream_tokens_total",
			Help: "Stream tokens delivered to callers",
		},
		[]string{"method"},
	)

	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plannerbridge_dropped_frames_total",
			Help: "Inbound frames discarded",
		},
		[]string{"reason"},
	)

	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plannerbridge_reconnect_attempts_total",
			Help: "Reconnect attempts scheduled",
		},
	)

	reconnectGaveUp = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plannerbridge_reconnect_gave_up_total",
			Help: "Times the reconnect policy exhausted its attempts",
		},
	)

	connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plannerbridge_connected",
			Help: "1 when the bridge connection is open",
		},
	)

	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plannerbridge_pending_requests",
			Help: "Requests waiting for a terminal frame",
		},
	)

	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plannerbridge_tool_calls_total",
			Help: "Tool invocations by tool and envelope outcome",
		},
		[]string{"tool", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requests, requestDuration, streamTokens, droppedFrames,
		reconnectAttempts, reconnectGaveUp, connected, pending, toolCalls)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRequest counts a finished request. outcome is "success" or an error code.
func RecordRequest(method, outcome string, d time.Duration) {
	requests.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordStreamToken counts one delivered stream token.
func RecordStreamToken(method string) {
	streamTokens.WithLabelValues(method).Inc()
}

// RecordDroppedFrame counts an inbound frame that was discarded.
func RecordDroppedFrame(reason string) {
	droppedFrames.WithLabelValues(reason).Inc()
}

// RecordReconnectAttempt counts a scheduled reconnect attempt.
func RecordReconnectAttempt() {
	reconnectAttempts.Inc()
}

// RecordReconnectGaveUp counts reconnect exhaustion.
func RecordReconnectGaveUp() {
	reconnectGaveUp.Inc()
}

// SetConnected flips the connection gauge.
func SetConnected(v bool) {
	if v {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

// SetPending reports the correlation table size.
func SetPending(n int) {
	pending.Set(float64(n))
}

// RecordToolCall counts a tool invocation.
func RecordToolCall(tool string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	toolCalls.WithLabelValues(tool, outcome).Inc()
}
