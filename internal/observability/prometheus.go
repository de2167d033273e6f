package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports measurements on a private registry.
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.HistogramVec
	rejected   *prometheus.CounterVec
	records    *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the yuleboard collectors plus the Go and
// process collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yuleboard",
			Name:      "operation_duration_seconds",
			Help:      "Duration of snapshot applications and exports.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yuleboard",
			Name:      "documents_rejected_total",
			Help:      "Documents dropped because they failed to decode.",
		}, []string{"category"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "yuleboard",
			Name:      "records",
			Help:      "Current number of records per category.",
		}, []string{"category"}),
	}
	reg.MustRegister(r.operations, r.rejected, r.records,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe implements Recorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, status(success)).Observe(duration.Seconds())
}

// Rejected implements Recorder.
func (r *PrometheusRecorder) Rejected(category string, n int) {
	if n <= 0 {
		return
	}
	r.rejected.WithLabelValues(category).Add(float64(n))
}

// Records implements Recorder.
func (r *PrometheusRecorder) Records(category string, n int) {
	r.records.WithLabelValues(category).Set(float64(n))
}
