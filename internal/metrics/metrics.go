// Package metrics defines the Prometheus collectors of the bot.
//
// A nil *Metrics is valid and records nothing, so components can be built without one in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splitbot"

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventPanics     prometheus.Counter
	wizard          *prometheus.CounterVec
	ledgerNets      *prometheus.CounterVec
	intakeBatches   *prometheus.CounterVec
	intakeRollbacks prometheus.Counter
	sweepDeleted    *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound platform events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one inbound event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		eventPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_panics_total",
			Help:      "Events whose handler panicked.",
		}),
		wizard: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_transitions_total",
			Help:      "Wizard transitions by draft kind and event.",
		}, []string{"kind", "event"}),
		ledgerNets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_nets_total",
			Help:      "Netting operations applied to the debt table by source.",
		}, []string{"source"}),
		intakeBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_batches_total",
			Help:      "Attachment batches by outcome.",
		}, []string{"outcome"}),
		intakeRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_rollbacks_total",
			Help:      "Attachment batches rolled back after the wizard message vanished.",
		}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Records reclaimed by the background sweeps.",
		}, []string{"record"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.eventDuration, m.eventPanics, m.wizard,
		m.ledgerNets, m.intakeBatches, m.intakeRollbacks, m.sweepDeleted,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvent(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) EventPanicked() {
	if m == nil {
		return
	}
	m.eventPanics.Inc()
}

func (m *Metrics) WizardTransition(kind, event string) {
	if m == nil {
		return
	}
	m.wizard.WithLabelValues(kind, event).Inc()
}

func (m *Metrics) LedgerNets(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ledgerNets.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IntakeBatch(outcome string) {
	if m == nil {
		return
	}
	m.intakeBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IntakeRollback() {
	if m == nil {
		return
	}
	m.intakeRollbacks.Inc()
}

func (m *Metrics) SweepDeleted(record string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.WithLabelValues(record).Add(float64(n))
}
