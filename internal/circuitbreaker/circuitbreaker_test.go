package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errTest = errors.New("test error")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := New(&Config{Name: "test", MaxFailures: maxFailures, Timeout: timeout}, zerolog.Nop())
	cb.now = clock.now
	return cb, clock
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("counter")
	if cfg.Name != "counter" {
		t.Errorf("Name = %s, want counter", cfg.Name)
	}
	if cfg.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", cfg.MaxFailures)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
			t.Fatalf("call %d: expected errTest, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	cb.Execute(func() error { return errTest })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errTest })

	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestHalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)

	cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.advance(11 * time.Second)

	// Successful probe closes the circuit
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after probe, got %s", cb.State())
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)

	cb.Execute(func() error { return errTest })
	clock.advance(11 * time.Second)
	cb.Execute(func() error { return errTest })

	if cb.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", cb.State())
	}

	// Timeout restarts from the failed probe
	clock.advance(5 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestReset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.Execute(func() error { return errTest })
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
}
