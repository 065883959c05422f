// Package metrics exposes prometheus collectors for the runtime's phase
// outcomes, retry activity, and recovery queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/modkit/module"
)

// Metrics bundles the runtime's collectors. A nil *Metrics is a valid
// no-op recorder, so callers never need nil checks at call sites.
type Metrics struct {
	phaseOutcomes *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// New builds and registers the runtime collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		phaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modkit_phase_outcomes_total",
			Help: "Terminal outcomes of module phase operations.",
		}, []string{"phase", "outcome"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modkit_retry_attempts_total",
			Help: "Total attempts executed by the retry engine.",
		}, []string{"phase"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modkit_recovery_queue_depth",
			Help: "Entries currently waiting in the recovery queue.",
		}),
	}
	reg.MustRegister(m.phaseOutcomes, m.retryAttempts, m.queueDepth)
	return m
}

// Attempt records one retry-engine attempt for a phase.
func (m *Metrics) Attempt(phase module.Phase) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(string(phase)).Inc()
}

// Outcome records the terminal outcome ("success", "failure", "queued",
// "deferred", "recovered") of a phase operation.
func (m *Metrics) Outcome(phase module.Phase, outcome string) {
	if m == nil {
		return
	}
	m.phaseOutcomes.WithLabelValues(string(phase), outcome).Inc()
}

// QueueDepth moves the recovery queue depth gauge by delta.
func (m *Metrics) QueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(delta)
}
