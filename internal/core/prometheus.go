package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labcore/pkg/domain"
)

// PrometheusMetricsRecorder exports service metrics on its own registry.
type PrometheusMetricsRecorder struct {
	registry    *prometheus.Registry
	duration    *prometheus.HistogramVec
	results     *prometheus.CounterVec
	warnings    *prometheus.CounterVec
	suggestions *prometheus.GaugeVec
}

// NewPrometheusMetricsRecorder registers the labcore collectors on a fresh
// registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	registry := prometheus.NewRegistry()
	r := &PrometheusMetricsRecorder{
		registry: registry,
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "labcore",
				Name:      "operation_duration_seconds",
				Help:      "Latency of service operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labcore",
				Name:      "operations_total",
				Help:      "Service operations by outcome",
			},
			[]string{"operation", "status"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labcore",
				Name:      "deduction_warnings_total",
				Help:      "Inventory deductions that could not be applied cleanly",
			},
			[]string{"class"},
		),
		suggestions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "labcore",
				Name:      "reorder_suggestions",
				Help:      "Open reorder suggestions at the last computation",
			},
			[]string{"lab", "priority"},
		),
	}
	registry.MustRegister(r.duration, r.results, r.warnings, r.suggestions)
	return r
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// DeductionWarning implements DeductionWarningRecorder.
func (r *PrometheusMetricsRecorder) DeductionWarning(class domain.ErrorClass) {
	if class == domain.ClassNone {
		class = "unknown"
	}
	r.warnings.WithLabelValues(string(class)).Inc()
}

// Suggestions implements SuggestionRecorder.
func (r *PrometheusMetricsRecorder) Suggestions(lab string, byPriority map[domain.Priority]int) {
	for priority, n := range byPriority {
		r.suggestions.WithLabelValues(lab, string(priority)).Set(float64(n))
	}
}

// Registry exposes the registry, mainly for tests.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *PrometheusMetricsRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
