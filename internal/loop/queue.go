// Package loop provides the serialized execution context of the receiver.
//
// Every mutation of registry and session state happens inside a task posted
// to a Queue. Signaling callbacks, media callbacks and user commands all go
// through Post, so handlers never need locks.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("loop is stopped")

// Executor accepts tasks for serialized execution.
type Executor interface {
	Post(task func()) bool
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func()) bool

func (f ExecutorFunc) Post(task func()) bool {
	return f(task)
}

// Inline runs tasks on the caller's goroutine. Only for callers that are
// already serialized, e.g. tests driving a registry from one goroutine.
var Inline Executor = ExecutorFunc(func(task func()) bool {
	task()
	return true
})

// Queue is an unbounded FIFO mailbox drained by a single goroutine.
type Queue struct {
	mu      sync.Mutex
	tasks   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues the task. It never blocks and returns false once the queue
// is stopped.
func (q *Queue) Post(task func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return true
}

// Call posts the task and waits until it has run.
func (q *Queue) Call(ctx context.Context, task func()) error {
	finished := make(chan struct{})

	if !q.Post(func() {
		defer close(finished)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled or Stop is called. Tasks
// still queued at that point are dropped.
func (q *Queue) Run(ctx context.Context) error {
	defer q.Stop()

	for {
		for {
			task, ok := q.next()
			if !ok {
				break
			}
			q.run(task)
		}

		select {
		case <-q.wake:
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop rejects further tasks and terminates Run.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.tasks = nil
	close(q.done)
}

// Done is closed when the queue stops.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]

	return task, true
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("service", "loop").Interface("panic", r).Msg("task panicked")
		}
	}()

	task()
}
