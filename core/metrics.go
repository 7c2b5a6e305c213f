package orchestration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	submitted   *prometheus.CounterVec
	finished    *prometheus.CounterVec
	preemptions prometheus.Counter
	stale       prometheus.Counter
	sendFailure prometheus.Counter
}

// NewMetrics registers the collectors on reg. groups is sampled for the
// active groups gauge.
func NewMetrics(reg prometheus.Registerer, groups func() int) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ema_group",
			Name:      "turns_submitted_total",
			Help:      "Turns submitted, by scheduling decision.",
		}, []string{"decision"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ema_group",
			Name:      "turns_finished_total",
			Help:      "Turns that left the scheduler, by outcome.",
		}, []string{"outcome"}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ema_group",
			Name:      "preemptions_total",
			Help:      "Active turns cancelled by an interrupt or by the group emptying.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ema_group",
			Name:      "stale_results_total",
			Help:      "Collaborator results dropped because their generation was superseded.",
		}),
		sendFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ema_group",
			Name:      "send_failures_total",
			Help:      "Payload deliveries that failed and removed the client from a group.",
		}),
	}

	reg.MustRegister(m.submitted, m.finished, m.preemptions, m.stale, m.sendFailure)
	if groups != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ema_group",
			Name:      "active_groups",
			Help:      "Groups currently held by the registry.",
		}, func() float64 { return float64(groups()) }))
	}
	return m
}

func (m *Metrics) turnSubmitted(decision Decision) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(decision.String()).Inc()
}

func (m *Metrics) turnFinished(outcome string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) preempted() {
	if m == nil {
		return
	}
	m.preemptions.Inc()
}

func (m *Metrics) staleResult() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendFailure.Inc()
}
