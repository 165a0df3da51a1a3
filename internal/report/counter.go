package report

import (
	"context"
	"sync/atomic"

	"github.com/basekick-labs/docbench/internal/circuitbreaker"
	"github.com/basekick-labs/docbench/internal/store"
)

// Counter is the monotonic quantity a Reporter samples.
type Counter interface {
	Count(ctx context.Context) (uint64, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context) (uint64, error)

func (f CounterFunc) Count(ctx context.Context) (uint64, error) { return f(ctx) }

// BackendCounter polls the authoritative record count of c. When cb is
// non-nil every poll goes through it, so a backend that keeps failing is
// left alone until the breaker's timeout elapses.
func BackendCounter(c *store.Collection, cb *circuitbreaker.CircuitBreaker) Counter {
	return CounterFunc(func(ctx context.Context) (uint64, error) {
		if cb == nil {
			return c.Count(ctx)
		}
		var n uint64
		err := cb.Execute(func() error {
			var err error
			n, err = c.Count(ctx)
			return err
		})
		return n, err
	})
}

// Tally counts completed operations reported by workers. Workers hand
// batch sizes over a bounded channel; Notify blocks while the channel is
// full so a stalled consumer slows producers down instead of losing counts.
type Tally struct {
	ch    chan uint64
	total atomic.Uint64
}

// NewTally creates a tally whose notification channel holds buffer entries.
func NewTally(buffer int) *Tally {
	if buffer < 1 {
		buffer = 1
	}
	return &Tally{ch: make(chan uint64, buffer)}
}

// Notify reports n completed operations.
func (t *Tally) Notify(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	select {
	case t.ch <- uint64(n):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains notifications into the total until ctx is done.
func (t *Tally) Run(ctx context.Context) {
	for {
		select {
		case n := <-t.ch:
			t.total.Add(n)
		case <-ctx.Done():
			return
		}
	}
}

// Count returns the number of operations drained so far.
func (t *Tally) Count(ctx context.Context) (uint64, error) {
	return t.total.Load(), nil
}
