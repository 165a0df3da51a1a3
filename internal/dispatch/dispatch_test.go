package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBoundedConcurrency(t *testing.T) {
	const (
		k = 4
		n = 50
	)
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}

	var inFlight, maxInFlight atomic.Int32
	var completed atomic.Int32

	err := Run(context.Background(), items, Options{Concurrency: k}, func(ctx context.Context, _ int) error {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		completed.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(k))
	assert.Equal(t, int32(n), completed.Load())
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestRunFirstErrorAttributed(t *testing.T) {
	sentinel := errors.New("boom")
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	err := Run(context.Background(), items, Options{Concurrency: 1}, func(ctx context.Context, item int) error {
		if item == 3 {
			return sentinel
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 3, itemErr.Index)
}

func TestRunStopsLaunchingAfterFailure(t *testing.T) {
	items := make([]int, 100)
	var started atomic.Int32

	err := Run(context.Background(), items, Options{Concurrency: 1}, func(ctx context.Context, _ int) error {
		if started.Add(1) == 1 {
			return errors.New("first fails")
		}
		return nil
	})

	require.Error(t, err)
	// The freed slot is handed over only after the group context is cancelled.
	assert.Equal(t, int32(1), started.Load())
}

func TestRunWaitsForInFlight(t *testing.T) {
	items := []int{0, 1, 2, 3}
	var started sync.WaitGroup
	started.Add(3)
	var mu sync.Mutex
	finished := make(map[int]bool)

	err := Run(context.Background(), items, Options{Concurrency: 4}, func(ctx context.Context, item int) error {
		if item == 0 {
			started.Wait()
			return errors.New("fail fast")
		}
		started.Done()
		// Slow ops ignore cancellation; Run must still wait for them.
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished[item] = true
		mu.Unlock()
		return nil
	})

	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	for _, item := range []int{1, 2, 3} {
		assert.True(t, finished[item], "item %d returned after Run", item)
	}
}

func TestRunParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err := Run(ctx, []int{1, 2, 3}, Options{Concurrency: 2}, func(ctx context.Context, _ int) error {
		calls.Add(1)
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestRunInvalidConcurrency(t *testing.T) {
	err := Run(context.Background(), []int{1}, Options{Concurrency: 0}, func(ctx context.Context, _ int) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestRunEmpty(t *testing.T) {
	err := Run(context.Background(), []int(nil), Options{Concurrency: 3}, func(ctx context.Context, _ int) error {
		t.Fatal("op must not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestRunWithLimiter(t *testing.T) {
	limiter := NewLimiter(1000)
	require.NotNil(t, limiter)

	var calls atomic.Int32
	err := Run(context.Background(), make([]int, 20), Options{Concurrency: 5, Limiter: limiter}, func(ctx context.Context, _ int) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(20), calls.Load())
}

func TestRunLimiterPastDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	// Burst of one, then one token every 500ms: the second token lands after the deadline.
	var calls atomic.Int32
	err := Run(ctx, make([]int, 10), Options{Concurrency: 2, Limiter: NewLimiter(2)}, func(ctx context.Context, _ int) error {
		calls.Add(1)
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
	assert.Less(t, calls.Load(), int32(10))
}

func TestNewLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	assert.Nil(t, NewLimiter(-5))
}
