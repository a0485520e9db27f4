package taint

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps the persisted record in memory. It outlives Store
// instances, which makes it useful for restart scenarios and dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	record  map[string]bool
	loadErr error
	addErr  error
	adds    int
	closed  bool
}

// NewMemoryBackend returns a backend pre-populated with domains.
func NewMemoryBackend(domains ...string) *MemoryBackend {
	m := &MemoryBackend{record: make(map[string]bool)}
	for _, d := range domains {
		m.record[d] = true
	}
	return m
}

// FailLoad makes subsequent Load calls return err (nil clears it).
func (m *MemoryBackend) FailLoad(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// FailAdd makes subsequent Add calls return err (nil clears it).
func (m *MemoryBackend) FailAdd(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addErr = err
}

func (m *MemoryBackend) Load(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snapshotLocked(), nil
}

func (m *MemoryBackend) Add(ctx context.Context, domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.adds++
	for _, d := range domains {
		m.record[d] = true
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot returns the persisted domains, sorted.
func (m *MemoryBackend) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Adds returns the number of successful Add calls.
func (m *MemoryBackend) Adds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adds
}

// Closed reports whether Close was called.
func (m *MemoryBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryBackend) snapshotLocked() []string {
	out := make([]string, 0, len(m.record))
	for d := range m.record {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
