// Package metrics provides Prometheus instrumentation for the load watcher.
// Every method is safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evaluation outcomes.
const (
	OutcomeUnresolved = "unresolved"
	OutcomeIrrelevant = "irrelevant"
	OutcomeRelevant   = "relevant"
)

// Metrics tracks observer decisions and taint store persistence.
type Metrics struct {
	EventsEvaluated  *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	OriginsTainted   prometheus.Counter
	TaintedDomains   prometheus.Gauge
	PersistedDomains prometheus.Counter
	PersistFailures  prometheus.Counter
}

// New registers all load watcher metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsEvaluated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loadwatcher_events_evaluated_total",
			Help: "Load events evaluated by the observer, by outcome",
		}, []string{"outcome"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadwatcher_events_dropped_total",
			Help: "Load events dropped because the event loop was full or stopped",
		}),
		OriginsTainted: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadwatcher_origins_tainted_total",
			Help: "Origins newly added to the tainted domain set",
		}),
		TaintedDomains: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadwatcher_tainted_domains",
			Help: "Current size of the tainted domain set",
		}),
		PersistedDomains: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadwatcher_persisted_domains_total",
			Help: "Domains successfully written to the persistence backend",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadwatcher_persist_failures_total",
			Help: "Failed writes to the persistence backend",
		}),
	}
}

// ObserveEvaluation records the outcome of one observer evaluation.
func (m *Metrics) ObserveEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.EventsEvaluated.WithLabelValues(outcome).Inc()
}

// IncrementDropped records an event that never reached the observer.
func (m *Metrics) IncrementDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// IncrementTainted records a newly tainted origin.
func (m *Metrics) IncrementTainted() {
	if m == nil {
		return
	}
	m.OriginsTainted.Inc()
}

// SetTaintedDomains records the current size of the set.
func (m *Metrics) SetTaintedDomains(n int) {
	if m == nil {
		return
	}
	m.TaintedDomains.Set(float64(n))
}

// ObservePersist records the result of a backend write of n domains.
func (m *Metrics) ObservePersist(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.PersistedDomains.Add(float64(n))
}
