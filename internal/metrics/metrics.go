// Package metrics holds the Prometheus instrumentation for downgrade
// processing and notification delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters exported on /metrics.  A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	processRuns   *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "downgrades",
				Name:      "status_transitions_total",
				Help:      "Downgrade status changes persisted, by new status",
			},
			[]string{"status"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "downgrades",
				Name:      "notifications_total",
				Help:      "Downgrade emails handed to the delivery backend, by template and result",
			},
			[]string{"template", "result"},
		),
		processRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "downgrades",
				Name:      "process_runs_total",
				Help:      "Downgrade process attempts, by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.notifications, m.processRuns)
	}
	return m
}

// Transition records a persisted status change.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Notification records one delivery attempt.
func (m *Metrics) Notification(template string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(template, result).Inc()
}

// ProcessRun records the outcome of one process call.
func (m *Metrics) ProcessRun(trigger, outcome string) {
	if m == nil {
		return
	}
	m.processRuns.WithLabelValues(trigger, outcome).Inc()
}
