package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	serviceOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		},
		[]string{"operation", "success"},
	)
	serviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "greenhouse",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	phaseAdvances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "lifecycle",
			Name:      "phase_advances_total",
			Help:      "Committed seed phase advances.",
		},
		[]string{"from", "to"},
	)
	reportExports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "reports",
			Name:      "exports_total",
			Help:      "Report exports by final status.",
		},
		[]string{"status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "greenhouse",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(serviceOperations, serviceDuration, phaseAdvances, reportExports, httpRequests, httpDuration)
	})
}

// PrometheusRecorder feeds service and lifecycle hooks into Prometheus.
type PrometheusRecorder struct{}

// NewPrometheusRecorder registers the collectors and returns a recorder.
func NewPrometheusRecorder() PrometheusRecorder {
	RegisterMetrics()
	return PrometheusRecorder{}
}

// Observe records one service operation.
func (PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	serviceOperations.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	serviceDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// PhaseAdvanced counts a committed transition.
func (PrometheusRecorder) PhaseAdvanced(_ context.Context, from, to string) {
	phaseAdvances.WithLabelValues(from, to).Inc()
}

// ExportFinished counts a report export reaching a final status.
func (PrometheusRecorder) ExportFinished(status string) {
	reportExports.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
