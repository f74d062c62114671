package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection outcomes recorded by the accept loop.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	registerOnce sync.Once

	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestbook",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Connections seen by the accept loop, by outcome.",
		},
		[]string{"outcome"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestbook",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests served, by kind and response status.",
		},
		[]string{"kind", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guestbook",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time from accept hand-off to response written.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guestbook",
			Subsystem: "server",
			Name:      "inflight",
			Help:      "Connections currently held by a worker.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestbook",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guestbook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connections, requests, requestDuration, inflight, httpRequests, httpDuration)
	})
}

func RecordConnection(outcome string) {
	RegisterMetrics()
	connections.WithLabelValues(outcome).Inc()
}

// RecordRequest counts one served request. status is "ok", "error" or
// "rejected" for requests that never decoded.
func RecordRequest(kind, status string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(kind, status).Inc()
	requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// TrackInflight raises the in-flight gauge and returns its release.
func TrackInflight() func() {
	RegisterMetrics()
	inflight.Inc()
	return inflight.Dec
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
