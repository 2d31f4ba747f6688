// File: internal/concurrency/executor.go
// Package concurrency implements the worker pool that runs connection I/O.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks to a fixed set of worker goroutines through one
// unbounded FIFO. Submit never blocks the poll loop.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-nio/affinity"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// PanicHandler receives the value recovered from a panicking task.
type PanicHandler func(recovered any)

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	closed  bool
	wg      sync.WaitGroup
	workers int
	onPanic PanicHandler
	pin     bool

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
	pinned         atomic.Int64
	pinFailures    atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithPinning locks each worker to an OS thread bound to one CPU, workers
// spread round-robin. Workers whose binding fails keep running unpinned.
func WithPinning() Option {
	return func(e *Executor) { e.pin = true }
}

// NewExecutor starts numWorkers workers. If numWorkers <= 0, defaults to
// runtime.NumCPU(). onPanic may be nil.
func NewExecutor(numWorkers int, onPanic PanicHandler, opts ...Option) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks:   queue.New(),
		workers: numWorkers,
		onPanic: onPanic,
	}
	for _, o := range opts {
		o(e)
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run(i)
	}
	return e
}

// Submit enqueues a task, returning ErrExecutorClosed after Close.
func (e *Executor) Submit(task TaskFunc) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	e.tasks.Add(task)
	e.totalTasks.Add(1)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.workers
}

// Close stops accepting tasks, lets workers finish what is queued and waits
// for them to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	done := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": done,
		"pending_tasks":   total - done,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.workers),
		"pinned_workers":  e.pinned.Load(),
		"pin_failures":    e.pinFailures.Load(),
	}
}

func (e *Executor) run(worker int) {
	defer e.wg.Done()
	if e.pin {
		// The thread stays locked; it is discarded when the worker exits.
		runtime.LockOSThread()
		if err := affinity.SetAffinity(affinity.CPUFor(worker)); err != nil {
			e.pinFailures.Add(1)
		} else {
			e.pinned.Add(1)
		}
	}
	for {
		e.mu.Lock()
		for e.tasks.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.tasks.Length() == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks.Remove().(TaskFunc)
		e.mu.Unlock()

		e.execute(task)
	}
}

// execute runs the task and updates statistics, recovering from panics.
func (e *Executor) execute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			if e.onPanic != nil {
				e.onPanic(r)
			}
		}
		e.completedTasks.Add(1)
	}()
	task()
}
