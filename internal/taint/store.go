// File: internal/taint/store.go
package taint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RecordName is the name of the persisted record that holds the tainted set.
const RecordName = "taintedDomains"

// ErrNotInitialized is returned by Flush when Initialize has not run.
var ErrNotInitialized = errors.New("taint store not initialized")

// Backend persists the tainted domain set. Add must be additive: a backend
// never drops a domain it already holds.
type Backend interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, domains []string) error
	Close() error
}

// Reader is the read-only view handed to the substitution engine.
type Reader interface {
	Contains(domain string) bool
}

// Marker is the write side used by the observer.
type Marker interface {
	Mark(domain string) bool
}

// Option configures a Store.
type Option func(*Store)

// WithFlushInterval sets how often pending writes are retried.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithSeeds replaces the seed list applied on Initialize.
func WithSeeds(seeds []string) Option {
	return func(s *Store) {
		s.seeds = append([]string(nil), seeds...)
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store is the process-wide set of tainted origin domains. The in-memory view
// is updated synchronously by Mark; persistence happens in the background.
type Store struct {
	backend       Backend
	logger        *zap.Logger
	metrics       *metrics.Metrics
	seeds         []string
	flushInterval time.Duration

	mu      sync.RWMutex
	domains map[string]bool

	pendingMu sync.Mutex
	pending   map[string]struct{}

	// flushMu serializes backend writes between the writer and explicit flushes.
	flushMu sync.Mutex
	warn    rate.Sometimes

	wake        chan struct{}
	stop        chan struct{}
	writerDone  chan struct{}
	initialized bool
	closeOnce   sync.Once
}

// New creates a store over backend. Initialize must be called before use.
func New(backend Backend, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:       backend,
		logger:        logger.Named("taint_store"),
		seeds:         UndetectableDomains,
		flushInterval: time.Second,
		domains:       make(map[string]bool),
		pending:       make(map[string]struct{}),
		warn:          rate.Sometimes{First: 1, Interval: 30 * time.Second},
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		writerDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the persisted set, unions the seed list into it and starts
// the background writer. A backend failure is logged and the store continues
// with whatever it could load; prior entries are never removed.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("taint store already initialized")
	}
	s.initialized = true
	s.mu.Unlock()

	persisted, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Warn("Failed to load persisted tainted domains; continuing with seeds only.", zap.Error(err))
		persisted = nil
	}

	loaded := make(map[string]bool, len(persisted))
	s.mu.Lock()
	for _, d := range persisted {
		if key, ok := NormalizeDomain(d); ok {
			s.domains[key] = true
			loaded[key] = true
		}
	}
	s.mu.Unlock()

	// Seeds the backend does not hold yet are written back, so the persisted
	// record is always a superset of the seed list.
	for _, seed := range s.seeds {
		key, ok := NormalizeDomain(seed)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.domains[key] = true
		s.mu.Unlock()
		if !loaded[key] {
			s.enqueue(key)
		}
	}

	s.metrics.SetTaintedDomains(s.Len())
	s.logger.Info("Taint store initialized.",
		zap.Int("persisted", len(loaded)),
		zap.Int("total", s.Len()),
	)

	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("Failed to persist seed domains; will retry in the background.", zap.Error(err))
	}

	go s.writer()
	return nil
}

// Mark adds domain to the set and reports whether it was new. The change is
// visible to Contains immediately and persisted asynchronously.
func (s *Store) Mark(domain string) bool {
	key, ok := NormalizeDomain(domain)
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.domains[key] {
		s.mu.Unlock()
		return false
	}
	s.domains[key] = true
	size := len(s.domains)
	s.mu.Unlock()

	s.metrics.SetTaintedDomains(size)
	s.enqueue(key)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Contains reports whether domain is tainted.
func (s *Store) Contains(domain string) bool {
	key, ok := NormalizeDomain(domain)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains[key]
}

// Domains returns a sorted snapshot of the set.
func (s *Store) Domains() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the size of the set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.domains)
}

// Pending returns how many domains are waiting to be persisted.
func (s *Store) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Flush writes every pending domain to the backend. On failure the domains
// stay pending and the error is returned.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch := s.takePending()
	if len(batch) == 0 {
		return nil
	}

	err := s.backend.Add(ctx, batch)
	s.metrics.ObservePersist(len(batch), err)
	if err != nil {
		for _, d := range batch {
			s.enqueue(d)
		}
		return fmt.Errorf("failed to persist %d tainted domains: %w", len(batch), err)
	}
	s.logger.Debug("Persisted tainted domains.", zap.Strings("domains", batch))
	return nil
}

// Close stops the background writer, makes a final flush and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.RLock()
		initialized := s.initialized
		s.mu.RUnlock()

		if initialized {
			close(s.stop)
			<-s.writerDone

			if err := s.Flush(ctx); err != nil {
				s.logger.Error("Final flush failed; unpersisted domains will be re-learned.",
					zap.Int("pending", s.Pending()), zap.Error(err))
				closeErr = err
			}
		}

		if err := s.backend.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to close backend: %w", err))
		}
	})
	return closeErr
}

func (s *Store) enqueue(domain string) {
	s.pendingMu.Lock()
	s.pending[domain] = struct{}{}
	s.pendingMu.Unlock()
}

func (s *Store) takePending() []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	batch := make([]string, 0, len(s.pending))
	for d := range s.pending {
		batch = append(batch, d)
	}
	s.pending = make(map[string]struct{})
	sort.Strings(batch)
	return batch
}

// writer persists marks in the background: promptly after a Mark, and on
// every tick to retry earlier failures.
func (s *Store) writer() {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.Flush(ctx)
		cancel()
		if err != nil {
			s.warn.Do(func() {
				s.logger.Warn("Tainted domain persistence is failing; retrying.",
					zap.Int("pending", s.Pending()), zap.Error(err))
			})
		}
	}
}
