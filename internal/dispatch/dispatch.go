// Package dispatch runs batches of storage operations with a fixed ceiling
// on the number in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrInvalidConcurrency is returned when Options.Concurrency is not positive.
var ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

// Op is a single operation on one batch item.
type Op[T any] func(ctx context.Context, item T) error

// Options controls a dispatch.
type Options struct {
	// Concurrency is the maximum number of operations in flight.
	Concurrency int

	// Limiter optionally caps how fast operations start. nil means unlimited.
	Limiter *rate.Limiter
}

// ItemError attributes a failure to the batch item that produced it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Run applies op to every item with at most opts.Concurrency running at once.
//
// It returns nil only if every operation succeeded. The first failure cancels
// the context passed to the remaining operations, stops queued items from
// starting and is returned as an *ItemError. If items are left unlaunched
// because the limiter or the parent context gave up, that error is returned
// instead. Run never returns before every started operation has returned.
func Run[T any](ctx context.Context, items []T, opts Options, op Op[T]) error {
	if opts.Concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if len(items) == 0 {
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var launchErr error
	for i, item := range items {
		// Go blocks while the limit is reached, so by the time it returns a
		// slot is free. Stop launching once the group has failed.
		if gctx.Err() != nil {
			break
		}
		if opts.Limiter != nil {
			// Wait fails early when the next token lands past the deadline.
			if err := opts.Limiter.Wait(gctx); err != nil {
				launchErr = fmt.Errorf("item %d not started: %w", i, err)
				break
			}
		}

		g.Go(func() error {
			// The slot may have been freed by the failing item.
			if gctx.Err() != nil {
				return nil
			}
			if err := op(gctx, item); err != nil {
				return &ItemError{Index: i, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if launchErr != nil {
		return launchErr
	}
	// The parent may have been cancelled before all items were launched.
	return ctx.Err()
}

// NewLimiter returns a limiter allowing opsPerSec operation starts per second,
// or nil when opsPerSec is not positive.
func NewLimiter(opsPerSec float64) *rate.Limiter {
	if opsPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(opsPerSec), 1)
}
