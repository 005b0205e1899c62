package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ncore "dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

var (
	_ MetricsCollector      = (*PrometheusMetrics)(nil)
	_ ncore.PipelineMetrics = (*PrometheusMetrics)(nil)
)

// PrometheusMetrics records HTTP and pipeline telemetry on its own registry
// and serves it at /metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	deliveries     *prometheus.CounterVec
	gatewayBatches *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	runProcessed   prometheus.Counter
	runDuration    prometheus.Histogram
	scheduled      *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors under namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method", "route", "status"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Recipient outcomes by notification type and result.",
		}, []string{"type", "result"}),
		gatewayBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_batches_total",
			Help:      "Push gateway batch calls.",
		}, []string{"provider", "status"}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_batch_duration_seconds",
			Help:      "Push gateway batch latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"provider"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_outcomes_total",
			Help:      "Terminal or deferred statuses written for scheduled notifications.",
		}, []string{"type", "status"}),
		runProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "due_processed_total",
			Help:      "Scheduled notifications claimed by due runs.",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "due_run_duration_seconds",
			Help:      "Duration of due-notification runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_scheduled_total",
			Help:      "Rows created by producers.",
		}, []string{"producer"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.httpDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordDeliveries(_ context.Context, t types.NotificationType, s ncore.Summary) {
	m.deliveries.WithLabelValues(string(t), "success").Add(float64(s.Succeeded))
	m.deliveries.WithLabelValues(string(t), "failed").Add(float64(s.Failed))
	m.deliveries.WithLabelValues(string(t), "skipped").Add(float64(s.Skipped))
}

func (m *PrometheusMetrics) RecordGatewayBatch(_ context.Context, provider string, _ int, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayBatches.WithLabelValues(provider, status).Inc()
	m.gatewayLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, t types.NotificationType, status types.NotificationStatus) {
	m.outcomes.WithLabelValues(string(t), string(status)).Inc()
}

func (m *PrometheusMetrics) RecordRun(_ context.Context, processed int, duration time.Duration) {
	m.runProcessed.Add(float64(processed))
	m.runDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordScheduled(_ context.Context, producer string, n int) {
	m.scheduled.WithLabelValues(producer).Add(float64(n))
}
