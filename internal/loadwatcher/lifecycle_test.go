package loadwatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/decentraleyes/loadwatcher/internal/eventloop"
	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	registry *policy.Registry
	loop     *eventloop.Loop
	store    *taint.Store
	manager  *Manager
	stop     func()
}

// newHarness wires a manager to a running event loop. Pass nil components to
// use the registry itself.
func newHarness(t *testing.T, components policy.ComponentRegistry, logger *zap.Logger) *harness {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	registry := policy.NewRegistry(logger)
	if components == nil {
		components = registry
	}
	loop := eventloop.New(logger, 16)
	store := newTestStore(t)
	factory := func() (policy.Handler, error) {
		return NewObserver(testRegistry(), store, nil, logger), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	stop := func() {
		cancel()
		<-loop.Done()
	}
	t.Cleanup(stop)

	return &harness{
		registry: registry,
		loop:     loop,
		store:    store,
		manager:  NewManager(registry, components, loop, factory, logger),
		stop:     stop,
	}
}

func waitTeardown(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.TeardownDone():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete")
	}
}

func relevantEvent(origin string) policy.LoadEvent {
	ev := scriptEvent(map[string]string{"integrity": "sha384-abc"})
	ev.OriginHost = origin
	return ev
}

func TestManager_RegisterInstallsObserver(t *testing.T) {
	h := newHarness(t, nil, nil)

	assert.Equal(t, StateUnregistered, h.manager.State())
	require.NoError(t, h.manager.Register())
	assert.Equal(t, StateRegistered, h.manager.State())
	assert.Equal(t, []string{ContractID}, h.registry.Entries(policy.CategoryContentPolicy))
	assert.True(t, h.registry.IsRegistered(ContractID))

	require.NoError(t, h.loop.Call(context.Background(), func(ctx context.Context) {
		assert.Equal(t, policy.Allow, h.registry.ShouldLoad(ctx, relevantEvent("news.example")))
	}))
	assert.True(t, h.store.Contains("news.example"))
}

func TestManager_RegisterTwiceKeepsOneEntry(t *testing.T) {
	h := newHarness(t, nil, nil)

	require.NoError(t, h.manager.Register())
	require.NoError(t, h.manager.Register())
	assert.Equal(t, []string{ContractID}, h.registry.Entries(policy.CategoryContentPolicy))
}

func TestManager_RegisterReplacesStaleRegistration(t *testing.T) {
	h := newHarness(t, nil, nil)

	// Left over from an unclean shutdown.
	require.NoError(t, h.registry.RegisterFactory(ContractID, func() (policy.Handler, error) {
		return policy.HandlerFunc(func(context.Context, policy.LoadEvent) policy.Verdict { return policy.Allow }), nil
	}))
	require.NoError(t, h.registry.AddCategoryEntry(policy.CategoryContentPolicy, ContractID))

	require.NoError(t, h.manager.Register())
	assert.Equal(t, []string{ContractID}, h.registry.Entries(policy.CategoryContentPolicy))
}

func TestManager_UnregisterDefersTeardown(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.manager.Register())

	require.NoError(t, h.loop.Call(context.Background(), func(ctx context.Context) {
		h.manager.Unregister()

		// Same turn: the entry is gone but the component is still alive.
		assert.Equal(t, StatePendingTeardown, h.manager.State())
		assert.Empty(t, h.registry.Entries(policy.CategoryContentPolicy))
		assert.True(t, h.registry.IsRegistered(ContractID), "teardown must not run synchronously")

		h.registry.ShouldLoad(ctx, relevantEvent("after.example"))
		assert.ErrorIs(t, h.manager.Register(), ErrTeardownPending)
	}))

	waitTeardown(t, h.manager)
	assert.Equal(t, StateUnregistered, h.manager.State())
	assert.False(t, h.registry.IsRegistered(ContractID))
	assert.False(t, h.store.Contains("after.example"), "events after unregister never reach the observer")

	// A fresh register works once teardown has completed.
	require.NoError(t, h.manager.Register())
	assert.Equal(t, StateRegistered, h.manager.State())
}

func TestManager_UnregisterWhenNotRegistered(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.manager.Unregister()
	assert.Equal(t, StateUnregistered, h.manager.State())
	waitTeardown(t, h.manager)
}

type faultyComponents struct {
	*policy.Registry
	err    error
	panics bool
}

func (f *faultyComponents) UnregisterFactory(id string) error {
	if f.panics {
		panic("component table corrupted")
	}
	return f.err
}

func TestManager_TeardownFailuresAreLogged(t *testing.T) {
	for _, tc := range []struct {
		name       string
		components func(r *policy.Registry) policy.ComponentRegistry
		logMessage string
	}{
		{
			name: "error",
			components: func(r *policy.Registry) policy.ComponentRegistry {
				return &faultyComponents{Registry: r, err: errors.New("busy")}
			},
			logMessage: "Failed to unregister load watcher component.",
		},
		{
			name: "panic",
			components: func(r *policy.Registry) policy.ComponentRegistry {
				return &faultyComponents{Registry: r, panics: true}
			},
			logMessage: "Recovered from panic during load watcher teardown.",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			logger := zap.New(core)

			registry := policy.NewRegistry(logger)
			loop := eventloop.New(logger, 4)
			ctx, cancel := context.WithCancel(context.Background())
			go loop.Run(ctx)
			defer func() {
				cancel()
				<-loop.Done()
			}()

			factory := func() (policy.Handler, error) {
				return NewObserver(testRegistry(), newTestStore(t), nil, logger), nil
			}
			m := NewManager(registry, tc.components(registry), loop, factory, logger)
			require.NoError(t, m.Register())

			m.Unregister()
			waitTeardown(t, m)

			assert.Equal(t, StateUnregistered, m.State())
			assert.Equal(t, 1, logs.FilterMessage(tc.logMessage).Len())
		})
	}
}

func TestManager_UnregisterAfterLoopStopped(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.manager.Register())
	h.stop()

	h.manager.Unregister()
	waitTeardown(t, h.manager)
	assert.Equal(t, StateUnregistered, h.manager.State())
	assert.Empty(t, h.registry.Entries(policy.CategoryContentPolicy))
}

func TestManager_UnregisterWithFullQueue(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := policy.NewRegistry(logger)
	loop := eventloop.New(logger, 1)
	require.NoError(t, loop.TryPost(func(context.Context) {}))

	factory := func() (policy.Handler, error) {
		return NewObserver(testRegistry(), newTestStore(t), nil, logger), nil
	}
	m := NewManager(registry, registry, loop, factory, logger)
	require.NoError(t, m.Register())

	m.Unregister()
	assert.Equal(t, StatePendingTeardown, m.State())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer func() {
		cancel()
		<-loop.Done()
	}()

	waitTeardown(t, m)
	assert.False(t, registry.IsRegistered(ContractID))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unregistered", StateUnregistered.String())
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "pending_teardown", StatePendingTeardown.String())
	assert.Equal(t, "state(9)", State(9).String())
}
