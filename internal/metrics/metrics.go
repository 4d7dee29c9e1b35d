// Package metrics provides Prometheus metrics collection for the OCI client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oci_client_requests_total",
			Help: "Total number of registry requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oci_client_request_duration_seconds",
			Help:    "Registry request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oci_client_transport_errors_total",
			Help: "Total number of transport-level request failures by operation",
		},
		[]string{"operation"},
	)

	// Blob metrics
	BlobBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oci_client_blob_bytes_total",
			Help: "Total blob bytes transferred by direction (pull or push)",
		},
		[]string{"direction"},
	)

	// Auth metrics
	AuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oci_client_auth_total",
			Help: "Total number of auth flows by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics with Prometheus
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		TransportErrors,
		BlobBytes,
		AuthTotal,
	)
}

// Handler returns an HTTP handler for the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest tracks request metrics with timing.
func RecordRequest(operation string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	RequestsTotal.WithLabelValues(operation, statusStr).Inc()
	RequestDuration.WithLabelValues(operation, statusStr).Observe(duration.Seconds())
}

// RecordTransportError increments the transport failure counter.
func RecordTransportError(operation string) {
	TransportErrors.WithLabelValues(operation).Inc()
}

// RecordBlobBytes adds transferred blob bytes for a direction.
func RecordBlobBytes(direction string, n int64) {
	BlobBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordAuth increments the auth outcome counter.
// Outcomes: "anonymous", "no_bearer_challenge", "token", "denied".
func RecordAuth(outcome string) {
	AuthTotal.WithLabelValues(outcome).Inc()
}
