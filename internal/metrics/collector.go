// Package metrics exposes Prometheus collectors for guardrail evaluations and
// escalation delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardrails"

// MetricsCollector owns a private registry so several collectors can coexist
// in one process (tests, multiple servers). All methods are nil-safe.
type MetricsCollector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	invalidInputsTotal *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	dispatchTotal      *prometheus.CounterVec
	channelState       *prometheus.GaugeVec
}

// NewMetricsCollector creates and registers all guardrail collectors
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of guardrail evaluations by outcome",
			},
			[]string{"direction", "check", "risk_level", "intervention"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of guardrail evaluations in seconds",
				Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"direction"},
		),
		invalidInputsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_inputs_total",
				Help:      "Total number of rejected guardrail inputs",
			},
			[]string{"direction", "reason"}, // reason: invalid, too_long
		),
		escalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Total number of escalations raised",
			},
			[]string{"direction"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalation_dispatch_total",
				Help:      "Total escalation delivery attempts per channel",
			},
			[]string{"channel", "status"}, // status: delivered, failed, circuit_open
		),
		channelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "escalation_channel_state",
				Help:      "Circuit breaker state per escalation channel (0=closed, 1=open, 2=half-open)",
			},
			[]string{"channel"},
		),
	}

	m.registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.invalidInputsTotal,
		m.escalationsTotal,
		m.dispatchTotal,
		m.channelState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvaluation records one completed evaluation. check is empty when no rule fired.
func (m *MetricsCollector) RecordEvaluation(direction, check, riskLevel, intervention string, duration time.Duration) {
	if m == nil {
		return
	}
	if check == "" {
		check = "none"
	}
	m.evaluationsTotal.WithLabelValues(direction, check, riskLevel, intervention).Inc()
	m.evaluationDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordInvalidInput records a rejected input
func (m *MetricsCollector) RecordInvalidInput(direction, reason string) {
	if m == nil {
		return
	}
	m.invalidInputsTotal.WithLabelValues(direction, reason).Inc()
}

// RecordEscalation records a raised escalation
func (m *MetricsCollector) RecordEscalation(direction string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(direction).Inc()
}

// RecordDispatch records one delivery attempt on a channel
func (m *MetricsCollector) RecordDispatch(channel, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, status).Inc()
}

// SetChannelState publishes a channel's circuit breaker state
func (m *MetricsCollector) SetChannelState(channel string, state int) {
	if m == nil {
		return
	}
	m.channelState.WithLabelValues(channel).Set(float64(state))
}
