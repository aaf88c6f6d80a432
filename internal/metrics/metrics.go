// Package metrics provides Prometheus metrics for the admission layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	admissionRejects *prometheus.CounterVec
	cacheOutcomes    *prometheus.CounterVec
	collapseOutcomes *prometheus.CounterVec
	poolUtilization  prometheus.Gauge
	poolConnections  *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
	healthStatus     prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics. Registration is
// process-wide, so repeated calls return the same instance.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surgegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		admissionRejects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgegate_admission_rejections_total",
				Help: "Requests rejected by the admission chain, by gate",
			},
			[]string{"gate"},
		),
		cacheOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgegate_response_cache_outcomes_total",
				Help: "Response cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		collapseOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surgegate_request_collapse_total",
				Help: "Request collapser outcomes by role",
			},
			[]string{"role"},
		),
		poolUtilization: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "surgegate_pool_utilization_percent",
				Help: "Connection pool utilization percentage",
			},
		),
		poolConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "surgegate_pool_connections",
				Help: "Connection pool connections by state",
			},
			[]string{"state"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "surgegate_circuit_breaker_state",
				Help: "Circuit breaker state per resource (0 = closed, 1 = half-open, 2 = open)",
			},
			[]string{"resource"},
		),
		healthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "surgegate_health_status",
				Help: "Pool health state (0 = healthy, 1 = degraded, 2 = error)",
			},
		),
	}

	return globalMetrics
}

// RecordHTTPRequest records metrics for one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRejection counts one admission rejection by the named gate.
func (m *Metrics) RecordRejection(gate string) {
	m.admissionRejects.WithLabelValues(gate).Inc()
}

// RecordCacheOutcome counts one response cache lookup outcome.
func (m *Metrics) RecordCacheOutcome(outcome string) {
	m.cacheOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCollapse counts one collapser decision: originator or follower.
func (m *Metrics) RecordCollapse(role string) {
	m.collapseOutcomes.WithLabelValues(role).Inc()
}

// SetPoolStatus publishes the pool gauges from one governor snapshot.
func (m *Metrics) SetPoolStatus(utilization float64, inUse, idle int) {
	m.poolUtilization.Set(utilization)
	m.poolConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.poolConnections.WithLabelValues("idle").Set(float64(idle))
}

// SetBreakerState publishes one resource breaker state.
func (m *Metrics) SetBreakerState(resource, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	m.breakerState.WithLabelValues(resource).Set(v)
}

// SetHealthStatus publishes the monitor state.
func (m *Metrics) SetHealthStatus(status string) {
	var v float64
	switch status {
	case "DEGRADED":
		v = 1
	case "ERROR":
		v = 2
	}
	m.healthStatus.Set(v)
}
