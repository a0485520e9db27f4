package policy

import (
	"context"

	"github.com/decentraleyes/loadwatcher/internal/eventloop"
	"github.com/decentraleyes/loadwatcher/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Poster is the non-blocking half of the event loop.
type Poster interface {
	TryPost(task eventloop.Task) error
}

// Deliverer hands load events from any goroutine to the handler on the event
// loop. It never waits for the evaluation, so event sources can forward the
// real request straight away.
type Deliverer struct {
	handler Handler
	loop    Poster
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDeliverer creates a Deliverer that evaluates events with handler on loop.
func NewDeliverer(handler Handler, loop Poster, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		handler: handler,
		loop:    loop,
		logger:  logger.Named("deliverer"),
	}
}

// WithMetrics counts dropped events on m.
func (d *Deliverer) WithMetrics(m *metrics.Metrics) *Deliverer {
	d.metrics = m
	return d
}

// Deliver queues ev for evaluation. A full or stopped loop drops the event;
// the returned error is informational only.
func (d *Deliverer) Deliver(ev LoadEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	err := d.loop.TryPost(func(ctx context.Context) {
		verdict := d.handler.ShouldLoad(ctx, ev)
		d.logger.Debug("Load event evaluated",
			zap.String("id", ev.ID),
			zap.String("source", ev.Source),
			zap.String("type", string(ev.ContentType)),
			zap.String("origin", ev.OriginHost),
			zap.Stringer("verdict", verdict),
		)
	})
	if err != nil {
		d.metrics.IncrementDropped()
		d.logger.Debug("Load event dropped", zap.String("id", ev.ID), zap.Error(err))
	}
	return err
}
