package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsEvicted prometheus.Counter
	sessionLookups  *prometheus.CounterVec

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	backendFailures    *prometheus.CounterVec
	fragmentsStreamed  *prometheus.CounterVec
	streamsAbandoned   *prometheus.CounterVec

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	websocketClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "chatproxy_active_sessions",
					Help: "Current live session count.",
				},
			),
			sessionsCreated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "chatproxy_sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "chatproxy_sessions_evicted_total",
					Help: "Total sessions evicted for idleness.",
				},
			),
			sessionLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_session_lookups_total",
					Help: "Session lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_completion_total",
					Help: "Completions by backend, mode and status.",
				},
				[]string{"backend", "mode", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chatproxy_completion_duration_seconds",
					Help:    "Completion duration in seconds by backend and mode.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "mode"},
			),
			backendFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_backend_failures_total",
					Help: "Backend failures by backend and kind.",
				},
				[]string{"backend", "kind"},
			),
			fragmentsStreamed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_fragments_streamed_total",
					Help: "Text fragments forwarded to stream consumers by backend.",
				},
				[]string{"backend"},
			),
			streamsAbandoned: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_streams_abandoned_total",
					Help: "Streams closed or cancelled before the backend finished.",
				},
				[]string{"backend"},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chatproxy_http_requests_total",
					Help: "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chatproxy_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			websocketClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "chatproxy_websocket_clients",
					Help: "Currently connected websocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsEvicted,
			m.sessionLookups,
			m.completionTotal,
			m.completionDuration,
			m.backendFailures,
			m.fragmentsStreamed,
			m.streamsAbandoned,
			m.httpRequests,
			m.httpDuration,
			m.websocketClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionCreated() {
	m := getMetrics()
	m.sessionsCreated.Inc()
}

func RecordSessionsEvicted(count int) {
	m := getMetrics()
	m.sessionsEvicted.Add(float64(count))
}

func RecordSessionLookup(hit bool) {
	m := getMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	m.sessionLookups.WithLabelValues(result).Inc()
}

func RecordCompletion(backend, mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.completionTotal.WithLabelValues(backend, mode, status).Inc()
	m.completionDuration.WithLabelValues(backend, mode).Observe(duration.Seconds())
}

func RecordBackendFailure(backend, kind string) {
	m := getMetrics()
	m.backendFailures.WithLabelValues(backend, kind).Inc()
}

func RecordFragments(backend string, count int) {
	m := getMetrics()
	m.fragmentsStreamed.WithLabelValues(backend).Add(float64(count))
}

func RecordStreamAbandoned(backend string) {
	m := getMetrics()
	m.streamsAbandoned.WithLabelValues(backend).Inc()
}

func RecordHTTPRequest(route string, code int, duration time.Duration) {
	m := getMetrics()
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func SetWebsocketClients(count int) {
	m := getMetrics()
	m.websocketClients.Set(float64(count))
}
