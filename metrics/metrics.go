package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neuronest",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neuronest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neuronest",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neuronest",
			Subsystem: "chat",
			Name:      "submissions_total",
			Help:      "Message submissions by identity kind and quota decision.",
		},
		[]string{"identity", "decision"},
	)

	streams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neuronest",
			Subsystem: "chat",
			Name:      "streams_total",
			Help:      "Completion streams by outcome.",
		},
		[]string{"outcome"},
	)

	allowanceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neuronest",
			Subsystem: "allowance",
			Name:      "writes_total",
			Help:      "Allowance persistence attempts by identity kind and result.",
		},
		[]string{"identity", "result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neuronest",
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Number of chat sessions held in memory.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissions,
		streams,
		allowanceWrites,
		activeSessions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// HTTPStarted marks a request as in flight and returns the function that records its completion.
func HTTPStarted() func(method, route string, status int) {
	start := time.Now()
	httpInFlight.Inc()
	return func(method, route string, status int) {
		httpInFlight.Dec()
		if route == "" {
			route = "unmatched"
		}
		method = strings.ToUpper(method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordSubmission counts a submit attempt that reached the quota policy.
func RecordSubmission(identity, decision string) {
	submissions.WithLabelValues(identity, decision).Inc()
}

// RecordStream counts a finished stream: "done", "cancelled" or "error".
func RecordStream(outcome string) {
	streams.WithLabelValues(outcome).Inc()
}

// RecordAllowanceWrite counts an allowance write. Result is one of
// "ok", "failed", "reconciled" or "drift".
func RecordAllowanceWrite(identity, result string) {
	allowanceWrites.WithLabelValues(identity, result).Inc()
}

// SetActiveSessions reports the number of live sessions.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
