package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry, the generic operation meters and
// the gateway's backend, retry, cache and alert meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	BackendAttempts  *prometheus.CounterVec
	BackendLatency   *prometheus.HistogramVec
	BackendActive    *prometheus.GaugeVec
	RetryAttempts    *prometheus.CounterVec
	URLCacheRequests *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
}

// NewMetrics creates a custom Prometheus registry with the botstore metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botstore_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	bytesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_bytes_processed_total",
		Help: "Total blob bytes processed.",
	}, []string{"direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	backendAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_backend_attempts_total",
		Help: "Backend attempts by outcome (ok or the failure kind).",
	}, []string{"backend", "result"})

	backendLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botstore_backend_latency_seconds",
		Help:    "Latency of individual backend attempts.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"backend"})

	backendActive := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "botstore_backend_active",
		Help: "1 when the backend is eligible for normal selection.",
	}, []string{"backend"})

	retryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_retry_attempts_total",
		Help: "Attempts made after the first one, per operation.",
	}, []string{"operation"})

	urlCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_urlcache_requests_total",
		Help: "Retrieval URL cache lookups by result.",
	}, []string{"result"})

	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_alerts_total",
		Help: "Alerts raised by severity and category.",
	}, []string{"severity", "category"})

	reg.MustRegister(opDuration, opTotal, bytesProcessed, errorsTotal,
		backendAttempts, backendLatency, backendActive, retryAttempts, urlCache, alerts)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesProcessed:    bytesProcessed,
		ErrorsTotal:       errorsTotal,
		BackendAttempts:   backendAttempts,
		BackendLatency:    backendLatency,
		BackendActive:     backendActive,
		RetryAttempts:     retryAttempts,
		URLCacheRequests:  urlCache,
		AlertsTotal:       alerts,
	}
}
