package raft

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// CommandType represents the type of FSM command.
type CommandType uint8

const (
	// CommandClaim records a node as the owner of an election name.
	CommandClaim CommandType = iota + 1
	// CommandRelease clears an ownership claim held by a node.
	CommandRelease
)

// Command represents a command to be applied to the FSM.
type Command struct {
	Type    CommandType `json:"type"`
	Payload []byte      `json:"payload"`
}

// Claim records which node runs the callback registered under Name.
type Claim struct {
	Name      string `json:"name"`
	NodeID    string `json:"node_id"`
	Term      uint64 `json:"term"`
	ClaimedAt int64  `json:"claimed_at"`
}

// ReleasePayload is the payload for CommandRelease.
type ReleasePayload struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
}

// FSMSnapshot represents a snapshot of the FSM state.
type FSMSnapshot struct {
	Claims map[string]*Claim `json:"claims"`
}

// OwnershipFSM implements raft.FSM. It replicates, per election name, the
// node currently running that name's callback.
type OwnershipFSM struct {
	mu     sync.RWMutex
	claims map[string]*Claim
	logger zerolog.Logger

	onChange func(name string, c *Claim)
}

// NewOwnershipFSM creates an empty ownership FSM.
func NewOwnershipFSM(logger zerolog.Logger) *OwnershipFSM {
	return &OwnershipFSM{
		claims: make(map[string]*Claim),
		logger: logger.With().Str("component", "ownership-fsm").Logger(),
	}
}

// OnChange sets a callback invoked after every applied claim or release.
// c is nil when the name became unowned.
func (f *OwnershipFSM) OnChange(fn func(name string, c *Claim)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// Apply applies a Raft log entry to the FSM.
func (f *OwnershipFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		f.logger.Error().Err(err).Msg("Failed to unmarshal command")
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	switch cmd.Type {
	case CommandClaim:
		return f.applyClaim(cmd.Payload, log.Term)
	case CommandRelease:
		return f.applyRelease(cmd.Payload)
	default:
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

func (f *OwnershipFSM) applyClaim(payload []byte, term uint64) interface{} {
	var c Claim
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("failed to unmarshal claim payload: %w", err)
	}
	if c.Name == "" || c.NodeID == "" {
		return fmt.Errorf("claim requires name and node id")
	}
	c.Term = term

	f.mu.Lock()
	previous := f.claims[c.Name]
	f.claims[c.Name] = &c
	callback := f.onChange
	f.mu.Unlock()

	event := f.logger.Info().Str("name", c.Name).Str("node_id", c.NodeID).Uint64("term", term)
	if previous != nil && previous.NodeID != c.NodeID {
		event = event.Str("previous_node_id", previous.NodeID)
	}
	event.Msg("Ownership claimed")

	if callback != nil {
		cp := c
		callback(c.Name, &cp)
	}
	return nil
}

func (f *OwnershipFSM) applyRelease(payload []byte) interface{} {
	var p ReleasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal release payload: %w", err)
	}

	f.mu.Lock()
	current, exists := f.claims[p.Name]
	released := exists && current.NodeID == p.NodeID
	if released {
		delete(f.claims, p.Name)
	}
	callback := f.onChange
	f.mu.Unlock()

	// A release from a node that has since lost the name is stale.
	if !released {
		return nil
	}

	f.logger.Info().Str("name", p.Name).Str("node_id", p.NodeID).Msg("Ownership released")

	if callback != nil {
		callback(p.Name, nil)
	}
	return nil
}

// Snapshot returns a snapshot of the FSM state.
func (f *OwnershipFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	claims := make(map[string]*Claim, len(f.claims))
	for name, c := range f.claims {
		cp := *c
		claims[name] = &cp
	}
	return &fsmSnapshot{claims: claims}, nil
}

// Restore restores the FSM from a snapshot.
func (f *OwnershipFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot FSMSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snapshot.Claims == nil {
		snapshot.Claims = make(map[string]*Claim)
	}

	f.mu.Lock()
	f.claims = snapshot.Claims
	f.mu.Unlock()

	f.logger.Info().Int("claim_count", len(snapshot.Claims)).Msg("FSM restored from snapshot")
	return nil
}

// Owner returns the node id that owns name, if any.
func (f *OwnershipFSM) Owner(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.claims[name]
	if !ok {
		return "", false
	}
	return c.NodeID, true
}

// Claims returns copies of all claims ordered by name.
func (f *OwnershipFSM) Claims() []Claim {
	f.mu.RLock()
	out := make([]Claim, 0, len(f.claims))
	for _, c := range f.claims {
		out = append(out, *c)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type fsmSnapshot struct {
	claims map[string]*Claim
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(FSMSnapshot{Claims: s.claims})
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
