package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/docbench/internal/election"
	"github.com/rs/zerolog"
)

// ElectorConfig holds configuration for the raft elector.
type ElectorConfig struct {
	// PollInterval is how often raft leadership is checked.
	PollInterval time.Duration
	// ApplyTimeout bounds claim and release commits.
	ApplyTimeout time.Duration
}

// DefaultElectorConfig returns an ElectorConfig with sensible defaults.
func DefaultElectorConfig() ElectorConfig {
	return ElectorConfig{
		PollInterval: 250 * time.Millisecond,
		ApplyTimeout: 5 * time.Second,
	}
}

// Elector implements election.Elector on top of a raft group: callbacks run
// on the raft leader only.
//
// Ownership follows raft leadership, not the handle. Stopping the leader's
// handle releases its claim, but while that node stays leader no follower
// picks the name up; the counter moves only when raft elects another leader,
// which happens when the owning node is closed (Close on an elector from
// Open, or Node.Stop). Shutdown therefore stops the node right after the
// handles.
type Elector struct {
	node     *Node
	ownsNode bool
	cfg      ElectorConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	handles map[*handle]struct{}
	closed  bool
}

var _ election.Elector = (*Elector)(nil)

// NewElector creates an elector over a started node. The caller keeps
// ownership of node.
func NewElector(node *Node, cfg ElectorConfig, logger zerolog.Logger) *Elector {
	defaults := DefaultElectorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaults.ApplyTimeout
	}
	return &Elector{
		node:    node,
		cfg:     cfg,
		logger:  logger.With().Str("component", "raft-elector").Logger(),
		handles: make(map[*handle]struct{}),
	}
}

// Open starts a raft node from nodeCfg and returns an elector that stops
// the node on Close.
func Open(nodeCfg *NodeConfig, cfg ElectorConfig, logger zerolog.Logger) (*Elector, error) {
	nodeCfg.Logger = logger
	node, err := NewNode(nodeCfg, NewOwnershipFSM(logger))
	if err != nil {
		return nil, err
	}
	if err := node.Start(); err != nil {
		node.Stop()
		return nil, err
	}

	e := NewElector(node, cfg, logger)
	e.ownsNode = true
	return e, nil
}

// Node returns the underlying raft node.
func (e *Elector) Node() *Node {
	return e.node
}

func (e *Elector) Register(name string, fn election.Callback) (election.Handle, error) {
	if name == "" {
		return nil, election.ErrEmptyName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, election.ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
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

	return h, nil
}

func (e *Elector) Close() error {
	e.mu.Lock()
	e.closed = true
	handles := make([]*handle, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}

	if e.ownsNode {
		return e.node.Stop()
	}
	return nil
}

func (e *Elector) forget(h *handle) {
	e.mu.Lock()
	delete(e.handles, h)
	e.mu.Unlock()
}

type handle struct {
	elector *Elector
	name    string
	fn      election.Callback
	logger  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	leading atomic.Bool
	once    sync.Once
}

func (h *handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.elector.forget(h)
	})
}

func (h *handle) Leading() bool {
	return h.leading.Load()
}

func (h *handle) run() {
	defer close(h.done)

	e := h.elector
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel, done = nil, nil
		h.leading.Store(false)
		h.logger.Info().Msg("Stopped leading")
	}

	for {
		if done != nil {
			select {
			case <-done:
				cancel()
				cancel, done = nil, nil
				h.leading.Store(false)
			default:
			}
		}

		isLeader := e.node.IsLeader()
		switch {
		case isLeader && cancel == nil:
			// A deposed leader cannot commit, so its callback never starts.
			if err := e.node.Claim(h.name, e.cfg.ApplyTimeout); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to commit ownership claim")
				break
			}
			var ctx context.Context
			ctx, cancel = context.WithCancel(h.ctx)
			done = make(chan struct{})
			h.leading.Store(true)
			h.logger.Info().Msg("Started leading")
			go func(done chan struct{}) {
				defer close(done)
				h.fn(ctx)
			}(done)
		case !isLeader && cancel != nil:
			stop()
		}

		select {
		case <-h.ctx.Done():
			wasLeading := cancel != nil
			stop()
			if wasLeading && e.node.IsLeader() {
				if err := e.node.Release(h.name, e.cfg.ApplyTimeout); err != nil {
					h.logger.Warn().Err(err).Msg("Failed to release ownership claim")
				}
			}
			return
		case <-ticker.C:
		}
	}
}
