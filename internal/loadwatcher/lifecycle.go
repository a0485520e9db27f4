// File: internal/loadwatcher/lifecycle.go
package loadwatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/eventloop"
	"github.com/decentraleyes/loadwatcher/internal/policy"
)

// ContractID identifies the observer component and its content-policy entry.
const ContractID = "@decentraleyes.org/load-watcher;1"

// ErrTeardownPending is returned by Register while a previous teardown has not run.
var ErrTeardownPending = errors.New("load watcher teardown still pending")

// State is the registration state of the observer.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StatePendingTeardown
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StatePendingTeardown:
		return "pending_teardown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Scheduler is the event loop the teardown is deferred onto. It must be the
// same loop that delivers load events.
type Scheduler interface {
	Post(task eventloop.Task) error
	TryPost(task eventloop.Task) error
}

// Manager installs and removes the observer.
type Manager struct {
	dispatcher policy.Dispatcher
	components policy.ComponentRegistry
	loop       Scheduler
	factory    policy.Factory
	logger     *zap.Logger

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// NewManager creates a manager that registers factory under ContractID.
func NewManager(dispatcher policy.Dispatcher, components policy.ComponentRegistry, loop Scheduler, factory policy.Factory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &Manager{
		dispatcher: dispatcher,
		components: components,
		loop:       loop,
		factory:    factory,
		logger:     logger.Named("lifecycle"),
		done:       done,
	}
}

// State returns the current registration state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TeardownDone is closed once no teardown is outstanding.
func (m *Manager) TeardownDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Register installs the observer as a content-policy handler. Any stale entry
// under the same identity is removed first, so calling it twice is harmless.
func (m *Manager) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StatePendingTeardown {
		return ErrTeardownPending
	}

	if err := m.components.RegisterFactory(ContractID, m.factory); err != nil && !errors.Is(err, policy.ErrAlreadyRegistered) {
		return fmt.Errorf("failed to register component factory: %w", err)
	}

	m.dispatcher.DeleteCategoryEntry(policy.CategoryContentPolicy, ContractID)
	if err := m.dispatcher.AddCategoryEntry(policy.CategoryContentPolicy, ContractID); err != nil {
		return fmt.Errorf("failed to add %s entry: %w", policy.CategoryContentPolicy, err)
	}

	m.state = StateRegistered
	m.logger.Info("Load watcher registered.", zap.String("contract_id", ContractID))
	return nil
}

// Unregister stops new events from reaching the observer right away and
// defers the component teardown to a later turn of the event loop. It is safe
// to call from inside an observer evaluation.
func (m *Manager) Unregister() {
	m.mu.Lock()
	if m.state != StateRegistered {
		m.mu.Unlock()
		m.logger.Debug("Unregister called while not registered.", zap.Stringer("state", m.state))
		return
	}
	m.dispatcher.DeleteCategoryEntry(policy.CategoryContentPolicy, ContractID)
	m.state = StatePendingTeardown
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	task := func(ctx context.Context) { m.teardown(done) }

	err := m.loop.TryPost(task)
	if errors.Is(err, eventloop.ErrQueueFull) {
		// Blocking here could deadlock when called from the loop itself.
		go func() {
			if err := m.loop.Post(task); err != nil {
				m.teardownSkipped(done, err)
			}
		}()
		return
	}
	if err != nil {
		m.teardownSkipped(done, err)
	}
}

func (m *Manager) teardown(done chan struct{}) {
	defer m.finish(done)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered from panic during load watcher teardown.", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	m.dispatcher.DeleteCategoryEntry(policy.CategoryContentPolicy, ContractID)
	if err := m.components.UnregisterFactory(ContractID); err != nil {
		m.logger.Error("Failed to unregister load watcher component.", zap.Error(err))
		return
	}
	m.logger.Info("Load watcher unregistered.")
}

// teardownSkipped handles a loop that is already gone: the process is exiting
// and there is nothing left to tear down.
func (m *Manager) teardownSkipped(done chan struct{}, err error) {
	m.logger.Debug("Event loop unavailable; treating teardown as complete.", zap.Error(err))
	m.finish(done)
}

func (m *Manager) finish(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done {
		m.state = StateUnregistered
	}
	close(done)
}
