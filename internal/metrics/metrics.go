// Package metrics exposes Prometheus collectors for captures and fleet dispatch.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captureRecordsTotal        *prometheus.CounterVec
	captureBytesTotal          *prometheus.CounterVec
	archivesTotal              *prometheus.CounterVec
	archiveBytesTotal          *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	instanceOperationsTotal    *prometheus.CounterVec
	remoteExecDurationSeconds  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_capture_records_total",
				Help: "Total number of capture records written, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		captureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_capture_bytes_total",
				Help: "Total number of raw response bytes captured, labeled by site.",
			},
			[]string{"site"},
		)

		archivesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_archives_total",
				Help: "Total number of archive containers committed, labeled by sink scheme.",
			},
			[]string{"scheme"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_archive_bytes_total",
				Help: "Total number of archive bytes committed, labeled by sink scheme.",
			},
			[]string{"scheme"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_batches_total",
				Help: "Total number of work batches dispatched, labeled by status.",
			},
			[]string{"status"},
		)

		instanceOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchiver_instance_operations_total",
				Help: "Total number of compute instance operations, labeled by action and status.",
			},
			[]string{"action", "status"},
		)

		remoteExecDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webarchiver_remote_exec_duration_seconds",
				Help:    "Histogram of remote capture invocation durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture counts one capture record and the response bytes it carried.
func ObserveCapture(site, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	captureRecordsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		captureBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveArchive counts one committed container.
func ObserveArchive(scheme string, size int64) {
	Init()
	archivesTotal.WithLabelValues(scheme).Inc()
	if size > 0 {
		archiveBytesTotal.WithLabelValues(scheme).Add(float64(size))
	}
}

// ObserveBatch increments the batch counter for the given status.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// ObserveInstanceOperation counts a create or terminate call.
func ObserveInstanceOperation(action, status string) {
	Init()
	instanceOperationsTotal.WithLabelValues(action, status).Inc()
}

// ObserveRemoteExec records how long a remote invocation ran.
func ObserveRemoteExec(duration time.Duration) {
	Init()
	remoteExecDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
