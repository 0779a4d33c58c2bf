// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package fecqueue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/fecqueue"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

// S5: priority preemption. A low-priority job already running should not
// block a burst of higher-priority jobs from completing on a free worker,
// and should itself finish last.
func TestPriorityPreemption(t *testing.T) {
	q := fecqueue.New(2, 10, nil, nil)

	release := make(chan struct{})
	started := make(chan struct{})

	var mu sync.Mutex
	var order []string

	lowJob := &fecqueue.Job{
		Priority: 5,
		Work: func() (fecqueue.Result, error) {
			close(started)
			<-release
			return nil, nil
		},
		Callback: func(fecqueue.Result, error) {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
		},
	}
	require.NoError(t, q.Enqueue(lowJob))
	<-started

	for i := 0; i < 4; i++ {
		i := i
		require.NoError(t, q.Enqueue(&fecqueue.Job{
			Priority: 1,
			Work:     func() (fecqueue.Result, error) { return i, nil },
			Callback: func(fecqueue.Result, error) {
				mu.Lock()
				order = append(order, "high")
				mu.Unlock()
			},
		}))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})

	mu.Lock()
	for _, o := range order {
		assert.Equal(t, "high", o)
	}
	mu.Unlock()

	close(release)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	mu.Lock()
	assert.Equal(t, "low", order[len(order)-1])
	mu.Unlock()
}

func TestFIFOWithinPriority(t *testing.T) {
	q := fecqueue.New(1, 10, nil, nil)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Enqueue(&fecqueue.Job{
			Priority: 3,
			Work:     func() (fecqueue.Result, error) { return i, nil },
			Callback: func(res fecqueue.Result, _ error) {
				mu.Lock()
				order = append(order, res.(int))
				mu.Unlock()
				wg.Done()
			},
		}))
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTransientPrecedesPersistentCacheAtSamePriority(t *testing.T) {
	store := fecqueue.NewMemoryStore()
	q := fecqueue.New(1, 10, store, nil)

	block := make(chan struct{})
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	// Prime a persistent job first but hold the single worker busy so it
	// never gets a chance to run before the transient job is enqueued.
	holder := &fecqueue.Job{
		Priority: 0,
		Work:     func() (fecqueue.Result, error) { <-block; return nil, nil },
		Callback: func(fecqueue.Result, error) {},
	}
	require.NoError(t, q.Enqueue(holder))

	require.NoError(t, q.Enqueue(&fecqueue.Job{
		Priority:   2,
		Persistent: true,
		Work:       func() (fecqueue.Result, error) { return nil, nil },
		Callback: func(fecqueue.Result, error) {
			mu.Lock()
			order = append(order, "persistent")
			mu.Unlock()
			wg.Done()
		},
	}))
	require.NoError(t, q.Enqueue(&fecqueue.Job{
		Priority: 2,
		Work:     func() (fecqueue.Result, error) { return nil, nil },
		Callback: func(fecqueue.Result, error) {
			mu.Lock()
			order = append(order, "transient")
			mu.Unlock()
			wg.Done()
		},
	}))

	close(block)
	wg.Wait()

	require.Len(t, order, 2)
	assert.Equal(t, "transient", order[0])
	assert.Equal(t, "persistent", order[1])
}

// OnLowMemory ratchets the worker cap down (floor 1) while waking draining
// workers; jobs already running still complete and the queue empties.
func TestOnLowMemoryDrainsExcessWorkers(t *testing.T) {
	q := fecqueue.New(3, 10, nil, nil)

	var wg sync.WaitGroup
	wg.Add(3)
	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(&fecqueue.Job{
			Priority: 4,
			Work:     func() (fecqueue.Result, error) { <-block; return nil, nil },
			Callback: func(fecqueue.Result, error) { wg.Done() },
		}))
	}

	q.OnLowMemory()
	q.OnLowMemory()
	close(block)
	wg.Wait()

	// All three in-flight jobs still complete even though the cap dropped
	// below 3; future enqueues respect the new, lower cap.
	waitFor(t, func() bool { return q.Depth() == 0 })
}

func TestCacheAdmissionEvictsLowerPriorityTailFirst(t *testing.T) {
	store := fecqueue.NewMemoryStore()
	q := fecqueue.New(1, 2, store, nil)

	block := make(chan struct{})
	holder := &fecqueue.Job{
		Priority: 0,
		Work:     func() (fecqueue.Result, error) { <-block; return nil, nil },
		Callback: func(fecqueue.Result, error) {},
	}
	require.NoError(t, q.Enqueue(holder))

	noop := func() (fecqueue.Result, error) { return nil, nil }
	require.NoError(t, q.Enqueue(&fecqueue.Job{Priority: 5, Persistent: true, Work: noop, Callback: func(fecqueue.Result, error) {}}))
	require.NoError(t, q.Enqueue(&fecqueue.Job{Priority: 5, Persistent: true, Work: noop, Callback: func(fecqueue.Result, error) {}}))
	// Cache is now full (2 items at priority 5). A higher-priority arrival
	// must evict from the lowest still-eligible priority, tail-first,
	// rather than being dropped itself or evicting the other priority-5 job.
	require.NoError(t, q.Enqueue(&fecqueue.Job{Priority: 1, Persistent: true, Work: noop, Callback: func(fecqueue.Result, error) {}}))

	assert.Equal(t, 2, q.Depth())

	close(block)
	waitFor(t, func() bool { return q.Depth() == 0 })
}
