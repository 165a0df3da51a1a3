// Package raft provides a leader elector backed by a hashicorp/raft group.
// The raft leader runs every registered callback and records its ownership
// in a replicated FSM so all members agree on who reports what.
package raft

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/rs/zerolog"
)

// ErrNotRunning is returned when the node has not been started.
var ErrNotRunning = errors.New("raft node not running")

// NodeConfig holds configuration for the Raft node.
type NodeConfig struct {
	// NodeID is the unique identifier for this node in the Raft group.
	NodeID string
	// DataDir is where the log, stable store and snapshots live.
	DataDir string
	// BindAddr is the address to bind the Raft transport to.
	BindAddr string
	// AdvertiseAddr is the address advertised to peers; defaults to BindAddr.
	AdvertiseAddr string
	// Bootstrap forms a new group from this node plus Peers when no state exists.
	Bootstrap bool
	// Peers lists the other voters as "id=host:port".
	Peers []string

	ElectionTimeout    time.Duration
	HeartbeatTimeout   time.Duration
	LeaderLeaseTimeout time.Duration
	CommitTimeout      time.Duration

	Logger zerolog.Logger
}

// DefaultNodeConfig returns a NodeConfig with sensible defaults.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		ElectionTimeout:    1 * time.Second,
		HeartbeatTimeout:   500 * time.Millisecond,
		LeaderLeaseTimeout: 500 * time.Millisecond,
		CommitTimeout:      50 * time.Millisecond,
	}
}

// Peer is a parsed member of the static peer list.
type Peer struct {
	ID      string
	Address string
}

// ParsePeers parses "id=host:port" entries.
func ParsePeers(entries []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid raft peer %q: expected id=host:port", entry)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid raft peer address %q: %w", addr, err)
		}
		peers = append(peers, Peer{ID: id, Address: addr})
	}
	return peers, nil
}

// Node wraps hashicorp/raft.
type Node struct {
	cfg         *NodeConfig
	peers       []Peer
	raft        *raft.Raft
	fsm         *OwnershipFSM
	transport   *raft.NetworkTransport
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore

	mu      sync.RWMutex
	running bool

	logger zerolog.Logger
}

// NewNode creates a new Raft node.
func NewNode(cfg *NodeConfig, fsm *OwnershipFSM) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.BindAddr == "" {
		return nil, fmt.Errorf("bind address is required")
	}

	peers, err := ParsePeers(cfg.Peers)
	if err != nil {
		return nil, err
	}

	defaults := DefaultNodeConfig()
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = defaults.ElectionTimeout
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.LeaderLeaseTimeout == 0 {
		cfg.LeaderLeaseTimeout = defaults.LeaderLeaseTimeout
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = defaults.CommitTimeout
	}

	return &Node{
		cfg:    cfg,
		peers:  peers,
		fsm:    fsm,
		logger: cfg.Logger.With().Str("component", "raft-node").Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

// Start opens the stores and transport and joins or bootstraps the group.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return fmt.Errorf("raft node already running")
	}

	if err := os.MkdirAll(n.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(n.cfg.NodeID)
	raftConfig.Logger = newHCLogAdapter(n.logger, "raft")
	raftConfig.ElectionTimeout = n.cfg.ElectionTimeout
	raftConfig.HeartbeatTimeout = n.cfg.HeartbeatTimeout
	raftConfig.LeaderLeaseTimeout = n.cfg.LeaderLeaseTimeout
	raftConfig.CommitTimeout = n.cfg.CommitTimeout

	advertiseAddr := n.cfg.AdvertiseAddr
	if advertiseAddr == "" {
		advertiseAddr = n.cfg.BindAddr
	}
	addr, err := net.ResolveTCPAddr("tcp", advertiseAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve advertise address: %w", err)
	}

	transport, err := raft.NewTCPTransportWithLogger(n.cfg.BindAddr, addr, 3, 10*time.Second, raftConfig.Logger)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStoreWithLogger(n.cfg.DataDir, 2, raftConfig.Logger)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	ra, err := raft.NewRaft(raftConfig, n.fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return fmt.Errorf("failed to create raft instance: %w", err)
	}

	n.raft = ra
	n.transport = transport
	n.logStore = logStore
	n.stableStore = stableStore

	if n.cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapStore)
		if err != nil {
			return fmt.Errorf("failed to check existing state: %w", err)
		}

		if !hasState {
			servers := []raft.Server{{
				ID:      raft.ServerID(n.cfg.NodeID),
				Address: raft.ServerAddress(transport.LocalAddr()),
			}}
			for _, p := range n.peers {
				servers = append(servers, raft.Server{
					ID:      raft.ServerID(p.ID),
					Address: raft.ServerAddress(p.Address),
				})
			}

			if err := ra.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
				return fmt.Errorf("failed to bootstrap cluster: %w", err)
			}

			n.logger.Info().
				Str("address", string(transport.LocalAddr())).
				Int("voters", len(servers)).
				Msg("Bootstrapped new Raft group")
		}
	}

	n.running = true

	n.logger.Info().
		Str("bind_addr", n.cfg.BindAddr).
		Bool("bootstrap", n.cfg.Bootstrap).
		Msg("Raft node started")

	return nil
}

// Stop shuts raft down and closes the stores.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error().Err(err).Msg("Error shutting down Raft")
	}
	n.logStore.Close()
	n.stableStore.Close()
	n.transport.Close()

	n.running = false
	n.logger.Info().Msg("Raft node stopped")
	return nil
}

// IsLeader returns true if this node is the Raft leader.
func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.running {
		return false
	}
	return n.raft.State() == raft.Leader
}

// LeaderID returns the ID of the current leader, or "" if unknown.
func (n *Node) LeaderID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.running {
		return ""
	}
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// NodeID returns this node's id.
func (n *Node) NodeID() string {
	return n.cfg.NodeID
}

// FSM returns the ownership FSM.
func (n *Node) FSM() *OwnershipFSM {
	return n.fsm
}

// Apply replicates cmd. It only succeeds on the leader.
func (n *Node) Apply(cmd *Command, timeout time.Duration) error {
	n.mu.RLock()
	ra, running := n.raft, n.running
	n.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := ra.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// Claim records this node as the owner of name.
func (n *Node) Claim(name string, timeout time.Duration) error {
	payload, err := json.Marshal(Claim{Name: name, NodeID: n.cfg.NodeID, ClaimedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return n.Apply(&Command{Type: CommandClaim, Payload: payload}, timeout)
}

// Release clears this node's ownership of name.
func (n *Node) Release(name string, timeout time.Duration) error {
	payload, err := json.Marshal(ReleasePayload{Name: name, NodeID: n.cfg.NodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return n.Apply(&Command{Type: CommandRelease, Payload: payload}, timeout)
}

// WaitForLeader blocks until a leader is known or timeout.
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ticker.C:
			if n.LeaderID() != "" {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for leader")
		}
	}
}
