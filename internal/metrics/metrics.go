// Package metrics exposes Prometheus collectors for the localpulse service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	syncRunsTotal              *prometheus.CounterVec
	syncRowsTotal              *prometheus.CounterVec
	captureTotal               *prometheus.CounterVec
	captureDurationSeconds     prometheus.Histogram
	gbpRequestsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localpulse_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localpulse_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localpulse_sync_runs_total",
				Help: "Total number of location sync runs, labeled by status.",
			},
			[]string{"status"},
		)

		syncRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localpulse_sync_rows_total",
				Help: "Total rows persisted by sync runs, labeled by kind.",
			},
			[]string{"kind"},
		)

		captureTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localpulse_captures_total",
				Help: "Total number of screenshot captures, labeled by result.",
			},
			[]string{"result"},
		)

		captureDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "localpulse_capture_duration_seconds",
				Help:    "Wall time per screenshot capture.",
				Buckets: []float64{1, 2, 5, 10, 20, 45, 90},
			},
		)

		gbpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localpulse_gbp_requests_total",
				Help: "Total Business Profile API calls, labeled by operation and code.",
			},
			[]string{"operation", "code"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSyncRun increments the sync run counter for the given status.
func ObserveSyncRun(status string) {
	syncRunsTotal.WithLabelValues(status).Inc()
}

// ObserveSyncRows records rows persisted by a sync run.
func ObserveSyncRows(kind string, count int64) {
	if count > 0 {
		syncRowsTotal.WithLabelValues(kind).Add(float64(count))
	}
}

// ObserveCapture records one screenshot capture attempt.
func ObserveCapture(result string, duration time.Duration) {
	captureTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		captureDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveGBPRequest increments the Business Profile API call counter.
func ObserveGBPRequest(operation string, code int) {
	gbpRequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}
