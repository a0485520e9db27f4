// File: internal/policy/registry.go
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CategoryContentPolicy is the category whose entries are consulted for every load.
const CategoryContentPolicy = "content-policy"

var (
	// ErrAlreadyRegistered is returned when a factory is registered twice under one ID.
	ErrAlreadyRegistered = errors.New("component already registered")
	// ErrNotRegistered is returned when unregistering an unknown component.
	ErrNotRegistered = errors.New("component not registered")
)

// Factory builds the component instance behind a component ID.
type Factory func() (Handler, error)

// Dispatcher manages category entries, each naming a component ID.
type Dispatcher interface {
	AddCategoryEntry(category, entry string) error
	DeleteCategoryEntry(category, entry string)
}

// ComponentRegistry maps component IDs to factories.
type ComponentRegistry interface {
	RegisterFactory(id string, factory Factory) error
	UnregisterFactory(id string) error
}

type component struct {
	factory  Factory
	instance Handler
}

// Registry is the in-process host: a category manager, a component registry
// and the dispatcher that runs content-policy handlers for each load.
type Registry struct {
	logger *zap.Logger

	mu         sync.RWMutex
	categories map[string][]string
	components map[string]*component
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:     logger.Named("policy_registry"),
		categories: make(map[string][]string),
		components: make(map[string]*component),
	}
}

// AddCategoryEntry appends entry to category. Adding an existing entry is a no-op.
func (r *Registry) AddCategoryEntry(category, entry string) error {
	if category == "" || entry == "" {
		return fmt.Errorf("category and entry must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.categories[category] {
		if existing == entry {
			return nil
		}
	}
	r.categories[category] = append(r.categories[category], entry)
	r.logger.Debug("Category entry added", zap.String("category", category), zap.String("entry", entry))
	return nil
}

// DeleteCategoryEntry removes entry from category if present.
func (r *Registry) DeleteCategoryEntry(category, entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.categories[category]
	for i, existing := range entries {
		if existing == entry {
			r.categories[category] = append(entries[:i:i], entries[i+1:]...)
			r.logger.Debug("Category entry deleted", zap.String("category", category), zap.String("entry", entry))
			break
		}
	}
	if len(r.categories[category]) == 0 {
		delete(r.categories, category)
	}
}

// Entries returns a copy of the entries of category, in registration order.
func (r *Registry) Entries(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.categories[category]...)
}

// RegisterFactory makes a component available under id.
func (r *Registry) RegisterFactory(id string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("nil factory for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[id]; exists {
		return fmt.Errorf("%s: %w", id, ErrAlreadyRegistered)
	}
	r.components[id] = &component{factory: factory}
	return nil
}

// UnregisterFactory drops the component and its cached instance.
func (r *Registry) UnregisterFactory(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[id]; !exists {
		return fmt.Errorf("%s: %w", id, ErrNotRegistered)
	}
	delete(r.components, id)
	return nil
}

// IsRegistered reports whether a factory is registered under id.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[id]
	return ok
}

// ShouldLoad consults every content-policy handler. Any Deny wins; entries
// whose component is missing or fails to build are skipped.
func (r *Registry) ShouldLoad(ctx context.Context, ev LoadEvent) Verdict {
	verdict := Allow
	for _, id := range r.Entries(CategoryContentPolicy) {
		handler, err := r.instance(id)
		if err != nil {
			r.logger.Debug("Skipping content-policy entry", zap.String("entry", id), zap.Error(err))
			continue
		}
		if handler.ShouldLoad(ctx, ev) == Deny {
			verdict = Deny
		}
	}
	return verdict
}

// instance returns the cached handler for id, building it on first use.
func (r *Registry) instance(id string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotRegistered)
	}
	if c.instance == nil {
		h, err := c.factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create component %s: %w", id, err)
		}
		c.instance = h
	}
	return c.instance, nil
}
