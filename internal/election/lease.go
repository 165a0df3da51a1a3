package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LeaseStore holds one lease record per election name.
type LeaseStore interface {
	// TryAcquire takes or renews the lease for name on behalf of owner. It
	// succeeds if the lease is free, expired, or already held by owner.
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// Release drops the lease if owner holds it.
	Release(ctx context.Context, name, owner string) error
}

// LeaseConfig holds configuration for the lease elector
type LeaseConfig struct {
	// Owner identifies this process; defaults to DefaultOwnerID().
	Owner string
	// TTL is how long a lease stays valid without renewal.
	TTL time.Duration
	// RenewInterval is how often the lease is renewed or contested.
	RenewInterval time.Duration
}

// DefaultLeaseConfig returns a LeaseConfig with sensible defaults.
func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{
		TTL:           5 * time.Second,
		RenewInterval: 1 * time.Second,
	}
}

// LeaseElector elects leaders through TTL leases in a shared LeaseStore.
// No consensus is involved: the store's conditional write is the only
// arbiter.
type LeaseElector struct {
	store  LeaseStore
	cfg    LeaseConfig
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[*leaseHandle]struct{}
	closed  bool
}

// NewLeaseElector creates an elector over store.
func NewLeaseElector(store LeaseStore, cfg LeaseConfig, logger zerolog.Logger) (*LeaseElector, error) {
	defaults := DefaultLeaseConfig()
	if cfg.Owner == "" {
		cfg.Owner = DefaultOwnerID()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = defaults.RenewInterval
	}
	if cfg.RenewInterval >= cfg.TTL {
		return nil, fmt.Errorf("lease renew interval %v must be shorter than ttl %v", cfg.RenewInterval, cfg.TTL)
	}

	return &LeaseElector{
		store:   store,
		cfg:     cfg,
		logger:  logger.With().Str("component", "lease-elector").Str("owner", cfg.Owner).Logger(),
		handles: make(map[*leaseHandle]struct{}),
	}, nil
}

// Owner returns this elector's owner id.
func (e *LeaseElector) Owner() string {
	return e.cfg.Owner
}

func (e *LeaseElector) Register(name string, fn Callback) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &leaseHandle{
		elector: e,
		name:    name,
		fn:      fn,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  e.logger.With().Str("election", name).Logger(),
	}
	e.handles[h] = struct{}{}

	go h.run()

	h.logger.Debug().Msg("Registered for election")
	return h, nil
}

func (e *LeaseElector) Close() error {
	e.mu.Lock()
	e.closed = true
	handles := make([]*leaseHandle, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	return nil
}

func (e *LeaseElector) forget(h *leaseHandle) {
	e.mu.Lock()
	delete(e.handles, h)
	e.mu.Unlock()
}

type leaseHandle struct {
	elector *LeaseElector
	name    string
	fn      Callback
	logger  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	leading atomic.Bool
	once    sync.Once
}

func (h *leaseHandle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.elector.forget(h)
	})
}

func (h *leaseHandle) Leading() bool {
	return h.leading.Load()
}

func (h *leaseHandle) run() {
	defer close(h.done)

	cfg := h.elector.cfg
	ticker := time.NewTicker(cfg.RenewInterval)
	defer ticker.Stop()

	var (
		leaderCancel context.CancelFunc
		leaderDone   chan struct{}
	)

	startLeading := func() {
		ctx, cancel := context.WithCancel(h.ctx)
		leaderCancel = cancel
		leaderDone = make(chan struct{})
		h.leading.Store(true)
		h.logger.Info().Msg("Acquired leadership")

		go func(done chan struct{}) {
			defer close(done)
			h.fn(ctx)
		}(leaderDone)
	}

	stopLeading := func() {
		if leaderCancel == nil {
			return
		}
		leaderCancel()
		<-leaderDone
		leaderCancel, leaderDone = nil, nil
		h.leading.Store(false)
		h.logger.Info().Msg("Released leadership")
	}

	for {
		acquired, err := h.elector.store.TryAcquire(h.ctx, h.name, cfg.Owner, cfg.TTL)
		if err != nil && h.ctx.Err() == nil {
			// A lease we cannot confirm may already belong to someone else.
			h.logger.Warn().Err(err).Msg("Lease renewal failed")
			acquired = false
		}

		if leaderDone != nil {
			select {
			case <-leaderDone:
				// Callback returned on its own; start it again next time we hold the lease.
				leaderCancel()
				leaderCancel, leaderDone = nil, nil
				h.leading.Store(false)
			default:
			}
		}

		switch {
		case acquired && leaderCancel == nil && h.ctx.Err() == nil:
			startLeading()
		case !acquired && leaderCancel != nil:
			stopLeading()
		}

		select {
		case <-h.ctx.Done():
			stopLeading()
			h.release()
			return
		case <-ticker.C:
		}
	}
}

func (h *leaseHandle) release() {
	ctx, cancel := context.WithTimeout(context.Background(), h.elector.cfg.TTL)
	defer cancel()
	if err := h.elector.store.Release(ctx, h.name, h.elector.cfg.Owner); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to release lease")
	}
}
