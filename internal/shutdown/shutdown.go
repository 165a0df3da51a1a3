package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that can be shut down gracefully
type Closer interface {
	Close() error
}

// Func performs cleanup during shutdown
type Func func(ctx context.Context) error

// Priorities for docbench components. Lower runs first.
const (
	PriorityDriver   = 10 // Stop launching storage operations
	PriorityReporter = 20 // Withdraw from the election and stop reporting
	PriorityElection = 30 // Release leases, leave the raft group
	PriorityMetrics  = 40 // Log the final counters
	PriorityStorage  = 80 // Close the benchmark store last
)

// Coordinator runs registered hooks and components in priority order on
// shutdown, bounded by a timeout.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type step struct {
	name     string
	priority int
	run      Func
	isHook   bool
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register closes component during shutdown. Hooks with the same priority
// run before components.
func (c *Coordinator) Register(name string, component Closer, priority int) {
	c.add(step{
		name:     name,
		priority: priority,
		run:      func(context.Context) error { return component.Close() },
	})
}

// RegisterHook runs hook during shutdown.
func (c *Coordinator) RegisterHook(name string, hook Func, priority int) {
	c.add(step{name: name, priority: priority, run: hook, isHook: true})
}

func (c *Coordinator) add(s step) {
	c.mu.Lock()
	c.steps = append(c.steps, s)
	c.mu.Unlock()

	c.logger.Debug().
		Str("name", s.name).
		Int("priority", s.priority).
		Bool("hook", s.isHook).
		Msg("Registered for shutdown")
}

// Done is closed once shutdown has been triggered or started.
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

// WaitForSignal blocks until a shutdown signal is received or shutdown is
// triggered programmatically
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown releases WaitForSignal. Safe for concurrent use.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs every registered step once, lowest priority first. The
// first step error is returned; remaining steps still run unless the
// timeout expires.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()
		sortSteps(steps)

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().Str("name", s.name).Msg("Shutdown timeout reached, skipping remaining steps")
				shutdownErr = ctx.Err()
				return
			}

			if err := c.runStep(ctx, s); err != nil {
				c.logger.Error().Err(err).Str("name", s.name).Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// runStep runs s but gives up when ctx expires; a step that ignores ctx is
// left running in the background.
func (c *Coordinator) runStep(ctx context.Context, s step) error {
	c.logger.Debug().Str("name", s.name).Int("priority", s.priority).Msg("Running shutdown step")

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sortSteps orders by priority, hooks before components, then registration order.
func sortSteps(steps []step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].isHook && !steps[j].isHook
	})
}
