// Package eventloop provides the single-threaded executor that delivers load
// events to content-policy handlers and runs deferred work on the same goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrLoopStopped is returned when work is submitted after the loop has shut down.
var ErrLoopStopped = errors.New("event loop stopped")

// ErrQueueFull is returned by TryPost when the queue cannot take another task.
var ErrQueueFull = errors.New("event loop queue full")

// Task is a unit of work executed on the loop goroutine.
type Task func(ctx context.Context)

// Scheduler is the subset of the loop that components use to defer work.
type Scheduler interface {
	Post(task Task) error
}

// Loop runs every task on one goroutine, in submission order.
type Loop struct {
	logger *zap.Logger
	tasks  chan Task

	mu       sync.RWMutex
	stopped  bool
	stopping chan struct{}

	done chan struct{}
}

// New creates a loop with a bounded queue. Run must be called to start it.
func New(logger *zap.Logger, queueSize int) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Loop{
		logger:   logger.Named("event_loop"),
		tasks:    make(chan Task, queueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled. Tasks already queued when the
// context ends are still executed before Run returns; deferred work is never dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	l.logger.Debug("Event loop started.")

	for {
		select {
		case task := <-l.tasks:
			l.execute(ctx, task)
		case <-ctx.Done():
			// Release any Post blocked on a full queue before taking the write lock.
			close(l.stopping)
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()

			// Nothing else can be enqueued now; drain what is left.
			drained := 0
			for {
				select {
				case task := <-l.tasks:
					l.execute(ctx, task)
					drained++
				default:
					l.logger.Debug("Event loop stopped.", zap.Int("drained", drained))
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post enqueues a task, blocking while the queue is full.
// Use it for work that must not be lost, such as deferred teardown.
func (l *Loop) Post(task Task) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return ErrLoopStopped
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.stopping:
		return ErrLoopStopped
	}
}

// TryPost enqueues a task without ever blocking the caller.
// Event sources use it so a busy loop can never delay a network request.
func (l *Loop) TryPost(task Task) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return ErrLoopStopped
	}
	select {
	case l.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call runs fn on the loop and waits for it to finish.
// It must not be used from a task already running on the loop.
func (l *Loop) Call(ctx context.Context, fn Task) error {
	finished := make(chan struct{})
	if err := l.Post(func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs a task and keeps the loop alive if it panics.
func (l *Loop) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic in event loop task.", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	task(ctx)
}
