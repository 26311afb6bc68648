package pipeline

import (
	"sync"
	"time"

	"therapy-guardrails/internal/guardrail"
)

// Metrics tracks in-process analysis counters
type Metrics struct {
	RequestsTotal      int64
	RequestsSuccessful int64
	RequestsFailed     int64
	AverageLatency     time.Duration
	TotalLatency       time.Duration
	ByRiskLevel        map[string]int64
	ByIntervention     map[string]int64
	EscalationsTotal   int64
	DispatchFailures   int64
	mutex              sync.RWMutex
}

// MetricsSnapshot is a consistent copy of Metrics, safe to serialise
type MetricsSnapshot struct {
	RequestsTotal      int64            `json:"requests_total"`
	RequestsSuccessful int64            `json:"requests_successful"`
	RequestsFailed     int64            `json:"requests_failed"`
	AverageLatency     time.Duration    `json:"average_latency"`
	ByRiskLevel        map[string]int64 `json:"by_risk_level"`
	ByIntervention     map[string]int64 `json:"by_intervention"`
	EscalationsTotal   int64            `json:"escalations_total"`
	DispatchFailures   int64            `json:"dispatch_failures"`
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ByRiskLevel:    make(map[string]int64),
		ByIntervention: make(map[string]int64),
	}
}

// RecordSuccess records a completed analysis
func (m *Metrics) RecordSuccess(duration time.Duration, result guardrail.GuardrailResult) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.record(duration)
	m.RequestsSuccessful++
	m.ByRiskLevel[result.RiskLevel.String()]++
	m.ByIntervention[string(result.Intervention)]++
	if result.IsEscalation() {
		m.EscalationsTotal++
	}
}

// RecordFailure records a rejected analysis
func (m *Metrics) RecordFailure(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.record(duration)
	m.RequestsFailed++
}

// RecordDispatchFailure records an escalation no channel accepted
func (m *Metrics) RecordDispatchFailure() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.DispatchFailures++
}

func (m *Metrics) record(duration time.Duration) {
	m.RequestsTotal++
	m.TotalLatency += duration
	m.AverageLatency = m.TotalLatency / time.Duration(m.RequestsTotal)
}

// GetRequestsTotal returns total requests processed
func (m *Metrics) GetRequestsTotal() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.RequestsTotal
}

// GetAverageLatency returns average processing latency
func (m *Metrics) GetAverageLatency() time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.AverageLatency
}

// Snapshot returns a copy of the counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	byRisk := make(map[string]int64, len(m.ByRiskLevel))
	for k, v := range m.ByRiskLevel {
		byRisk[k] = v
	}
	byIntervention := make(map[string]int64, len(m.ByIntervention))
	for k, v := range m.ByIntervention {
		byIntervention[k] = v
	}

	return MetricsSnapshot{
		RequestsTotal:      m.RequestsTotal,
		RequestsSuccessful: m.RequestsSuccessful,
		RequestsFailed:     m.RequestsFailed,
		AverageLatency:     m.AverageLatency,
		ByRiskLevel:        byRisk,
		ByIntervention:     byIntervention,
		EscalationsTotal:   m.EscalationsTotal,
		DispatchFailures:   m.DispatchFailures,
	}
}
