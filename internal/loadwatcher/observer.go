// File: internal/loadwatcher/observer.go
// Package loadwatcher implements the content-load observer that learns which
// origins depend on integrity or CORS verification of mapped CDN scripts, and
// the lifecycle manager that installs it with the policy dispatcher.
package loadwatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/mappings"
	"github.com/decentraleyes/loadwatcher/internal/metrics"
	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

// Observer is a content-policy handler that never blocks. Its only effect is
// tainting the requesting origin when a page loads a mapped script with
// integrity or crossorigin set.
type Observer struct {
	registry mappings.Registry
	store    taint.Marker
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewObserver creates an observer over the mapping registry and taint store.
// m may be nil.
func NewObserver(registry mappings.Registry, store taint.Marker, m *metrics.Metrics, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		registry: registry,
		store:    store,
		metrics:  m,
		logger:   logger.Named("observer"),
	}
}

// ShouldLoad evaluates ev and always returns policy.Allow.
func (o *Observer) ShouldLoad(ctx context.Context, ev policy.LoadEvent) (verdict policy.Verdict) {
	verdict = policy.Allow
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovered from panic while evaluating load event.",
				zap.String("id", ev.ID), zap.String("panic", fmt.Sprint(r)))
			verdict = policy.Allow
		}
	}()

	host, ok := ev.Target.Host()
	if !ok {
		o.metrics.ObserveEvaluation(metrics.OutcomeUnresolved)
		return policy.Allow
	}

	if !o.isRelevant(ev, host) {
		o.metrics.ObserveEvaluation(metrics.OutcomeIrrelevant)
		return policy.Allow
	}
	o.metrics.ObserveEvaluation(metrics.OutcomeRelevant)

	if ev.OriginHost == "" {
		o.logger.Debug("Relevant load without an origin host.", zap.String("id", ev.ID), zap.String("target", host))
		return policy.Allow
	}
	if o.store.Mark(ev.OriginHost) {
		o.metrics.IncrementTainted()
		o.logger.Info("Origin tainted.",
			zap.String("origin", ev.OriginHost),
			zap.String("target", host),
			zap.String("source", ev.Source),
		)
	}
	return policy.Allow
}

func (o *Observer) isRelevant(ev policy.LoadEvent, host string) bool {
	if ev.ContentType != policy.TypeScript {
		return false
	}
	if _, mapped := o.registry.Lookup(host); !mapped {
		return false
	}
	return ev.IsScriptElement() && ev.HasIntegrityOrCrossOrigin()
}
