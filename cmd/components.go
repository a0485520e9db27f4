// File: cmd/components.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/eventloop"
	"github.com/decentraleyes/loadwatcher/internal/loadwatcher"
	"github.com/decentraleyes/loadwatcher/internal/mappings"
	"github.com/decentraleyes/loadwatcher/internal/metrics"
	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/store"
	"github.com/decentraleyes/loadwatcher/internal/taint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const teardownTimeout = 5 * time.Second

// watcherComponents holds the services shared by serve and audit.
type watcherComponents struct {
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     *taint.Store
	Mappings  *mappings.Static
	Policy    *policy.Registry
	Loop      *eventloop.Loop
	Manager   *loadwatcher.Manager
	Deliverer *policy.Deliverer

	logger   *zap.Logger
	stopLoop context.CancelFunc
}

// openTaintStore opens the configured backend and loads the tainted set.
// An unreachable backend falls back to memory so the watcher still runs
// with the seeds; only a misconfigured backend name is fatal.
func openTaintStore(ctx context.Context, cfg config.StorageConfig, m *metrics.Metrics, logger *zap.Logger) (*taint.Store, error) {
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, store.ErrUnknownBackend) {
			return nil, err
		}
		logger.Warn("Storage backend unavailable, tainted domains will not survive a restart.",
			zap.String("backend", cfg.Backend), zap.Error(err))
		backend = taint.NewMemoryBackend()
	}
	opts := []taint.Option{taint.WithFlushInterval(cfg.FlushInterval)}
	if m != nil {
		opts = append(opts, taint.WithMetrics(m))
	}
	s := taint.New(backend, logger, opts...)
	if err := s.Initialize(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to initialize taint store: %w", err)
	}
	return s, nil
}

// initializeComponents wires storage, the CDN table, the policy registry and
// the event loop, starts the loop and registers the load watcher.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*watcherComponents, error) {
	c := &watcherComponents{logger: logger}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Registry)

	table, err := mappings.Load(cfg.Mappings().File)
	if err != nil {
		return nil, err
	}
	c.Mappings = table

	s, err := openTaintStore(ctx, cfg.Storage(), c.Metrics, logger)
	if err != nil {
		return nil, err
	}
	c.Store = s

	c.Policy = policy.NewRegistry(logger)
	c.Loop = eventloop.New(logger, cfg.Proxy().QueueSize)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	c.stopLoop = stopLoop
	go c.Loop.Run(loopCtx)

	factory := func() (policy.Handler, error) {
		return loadwatcher.NewObserver(c.Mappings, c.Store, c.Metrics, logger), nil
	}
	c.Manager = loadwatcher.NewManager(c.Policy, c.Policy, c.Loop, factory, logger)
	c.Deliverer = policy.NewDeliverer(c.Policy, c.Loop, logger).WithMetrics(c.Metrics)

	if err := c.Manager.Register(); err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to register load watcher: %w", err)
	}
	return c, nil
}

// Shutdown lets the loop finish the events already queued, then unregisters
// the watcher, stops the loop and closes storage.
func (c *watcherComponents) Shutdown() error {
	var errs error
	if c.Manager != nil {
		c.drainQueued()
		c.Manager.Unregister()
		select {
		case <-c.Manager.TeardownDone():
		case <-time.After(teardownTimeout):
			c.logger.Warn("Timed out waiting for load watcher teardown.")
		}
	}
	if c.stopLoop != nil {
		c.stopLoop()
		<-c.Loop.Done()
	}
	if c.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Store.Close(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// drainQueued waits until the loop has run every task queued before the call.
// Unregistering first would leave those events without a handler.
func (c *watcherComponents) drainQueued() {
	if c.Loop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.Loop.Call(ctx, func(context.Context) {}); err != nil {
		c.logger.Warn("Could not drain queued load events before unregistering.", zap.Error(err))
	}
}
