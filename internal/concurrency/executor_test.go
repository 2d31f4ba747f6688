package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsAllTasks(t *testing.T) {
	e := NewExecutor(4, nil)
	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		require.NoError(t, e.Submit(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	e.Close()

	assert.EqualValues(t, 1000, n.Load())
	st := e.Stats()
	assert.EqualValues(t, 1000, st["completed_tasks"])
	assert.EqualValues(t, 0, st["pending_tasks"])
}

func TestExecutorSingleWorkerIsFIFO(t *testing.T) {
	e := NewExecutor(1, nil)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, e.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	e.Close()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	var recovered atomic.Value
	e := NewExecutor(1, func(r any) { recovered.Store(r) })
	done := make(chan struct{})

	require.NoError(t, e.Submit(func() { panic("boom") }))
	require.NoError(t, e.Submit(func() { close(done) }))
	<-done
	e.Close()

	assert.Equal(t, "boom", recovered.Load())
	assert.EqualValues(t, 1, e.Stats()["panics"])
}

func TestExecutorClosed(t *testing.T) {
	e := NewExecutor(2, nil)
	e.Close()
	e.Close()

	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
	assert.ErrorIs(t, e.Submit(nil), ErrInvalidTask)
}

func TestExecutorPinnedWorkersRunTasks(t *testing.T) {
	e := NewExecutor(2, nil, WithPinning())
	var wg sync.WaitGroup
	var n atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, e.Submit(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	e.Close()

	assert.EqualValues(t, 100, n.Load())
	st := e.Stats()
	assert.EqualValues(t, 2, st["pinned_workers"]+st["pin_failures"])
}
