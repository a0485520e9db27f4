package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvaluation(OutcomeRelevant)
	m.ObserveEvaluation(OutcomeRelevant)
	m.ObserveEvaluation(OutcomeUnresolved)
	m.IncrementDropped()
	m.IncrementTainted()
	m.SetTaintedDomains(7)
	m.ObservePersist(3, nil)
	m.ObservePersist(2, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsEvaluated.WithLabelValues(OutcomeRelevant)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEvaluated.WithLabelValues(OutcomeUnresolved)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsEvaluated.WithLabelValues(OutcomeIrrelevant)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OriginsTainted))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TaintedDomains))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PersistedDomains))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(OutcomeIrrelevant)
		m.IncrementDropped()
		m.IncrementTainted()
		m.SetTaintedDomains(1)
		m.ObservePersist(1, nil)
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
