package eventloop_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T, queueSize int) (*eventloop.Loop, context.CancelFunc) {
	t.Helper()
	loop := eventloop.New(zaptest.NewLogger(t), queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoop_RunsTasksInOrderOnOneGoroutine(t *testing.T) {
	loop, _ := startLoop(t, 16)

	var order []int
	var running int32
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, loop.Post(func(ctx context.Context) {
			// No two tasks may overlap.
			assert.Equal(t, int32(1), atomic.AddInt32(&running, 1))
			order = append(order, i)
			atomic.AddInt32(&running, -1)
		}))
	}

	require.NoError(t, loop.Call(context.Background(), func(ctx context.Context) {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_TaskPostedFromTaskRunsOnALaterTurn(t *testing.T) {
	loop, _ := startLoop(t, 4)

	var steps []string
	require.NoError(t, loop.Call(context.Background(), func(ctx context.Context) {
		steps = append(steps, "outer-start")
		require.NoError(t, loop.Post(func(ctx context.Context) {
			steps = append(steps, "deferred")
		}))
		steps = append(steps, "outer-end")
	}))
	require.NoError(t, loop.Call(context.Background(), func(ctx context.Context) {}))

	assert.Equal(t, []string{"outer-start", "outer-end", "deferred"}, steps)
}

func TestLoop_TryPostNeverBlocks(t *testing.T) {
	loop := eventloop.New(zaptest.NewLogger(t), 1)
	// Loop not running, so the queue stays full after one task.
	require.NoError(t, loop.TryPost(func(ctx context.Context) {}))

	start := time.Now()
	err := loop.TryPost(func(ctx context.Context) {})
	assert.ErrorIs(t, err, eventloop.ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLoop_DrainsQueuedTasksOnShutdown(t *testing.T) {
	loop := eventloop.New(zaptest.NewLogger(t), 8)

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, loop.Post(func(ctx context.Context) { atomic.AddInt32(&ran, 1) }))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Run(ctx)

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, loop.Post(func(ctx context.Context) {}), eventloop.ErrLoopStopped)
	assert.ErrorIs(t, loop.TryPost(func(ctx context.Context) {}), eventloop.ErrLoopStopped)
}

func TestLoop_BlockedPostIsReleasedByShutdown(t *testing.T) {
	loop := eventloop.New(zaptest.NewLogger(t), 1)
	require.NoError(t, loop.Post(func(ctx context.Context) {}))

	// The queue is full and the loop is not running yet, so this blocks.
	result := make(chan error, 1)
	go func() { result <- loop.Post(func(ctx context.Context) {}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Run(ctx)

	select {
	case err := <-result:
		// Either accepted before shutdown (and drained) or rejected; never stuck.
		if err != nil {
			assert.ErrorIs(t, err, eventloop.ErrLoopStopped)
		}
	case <-time.After(time.Second):
		t.Fatal("Post stayed blocked after shutdown")
	}
}

func TestLoop_SurvivesPanickingTask(t *testing.T) {
	loop, _ := startLoop(t, 4)

	require.NoError(t, loop.Post(func(ctx context.Context) { panic("boom") }))

	var ran bool
	require.NoError(t, loop.Call(context.Background(), func(ctx context.Context) { ran = true }))
	assert.True(t, ran)
}

func TestLoop_CallRespectsContext(t *testing.T) {
	loop, _ := startLoop(t, 4)

	release := make(chan struct{})
	require.NoError(t, loop.Post(func(ctx context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := loop.Call(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
