package main

import (
	"context"
	"fmt"

	"github.com/basekick-labs/docbench/internal/config"
	"github.com/basekick-labs/docbench/internal/election"
	"github.com/basekick-labs/docbench/internal/election/raft"
	"github.com/basekick-labs/docbench/internal/logger"
	"github.com/basekick-labs/docbench/internal/shutdown"
)

// openElector builds the elector selected by election.backend. Lease stores
// that hold connections are registered to close after the elector.
func openElector(ctx context.Context, cfg *config.Config, coordinator *shutdown.Coordinator) (election.Elector, error) {
	ec := cfg.Election
	electionLogger := logger.Get("election")

	if ec.Backend == "raft" {
		return raft.Open(&raft.NodeConfig{
			NodeID:    ec.NodeIDOrHostname(),
			DataDir:   ec.Raft.DataDir,
			BindAddr:  ec.Raft.BindAddr,
			Bootstrap: ec.Raft.Bootstrap,
			Peers:     ec.Raft.Peers,
		}, raft.DefaultElectorConfig(), electionLogger)
	}

	var leases election.LeaseStore
	switch ec.Backend {
	case "memory":
		leases = election.NewMemoryLeaseStore()
	case "sqlite":
		s, err := election.NewSQLiteLeaseStore(ec.SQLitePath)
		if err != nil {
			return nil, err
		}
		coordinator.Register("lease-store", s, shutdown.PriorityElection+1)
		leases = s
	case "postgres":
		s, err := election.NewPostgresLeaseStore(ctx, ec.PostgresDSN)
		if err != nil {
			return nil, err
		}
		coordinator.Register("lease-store", s, shutdown.PriorityElection+1)
		leases = s
	default:
		return nil, fmt.Errorf("unknown election backend %q", ec.Backend)
	}

	return election.NewLeaseElector(leases, election.LeaseConfig{
		Owner:         ec.NodeID,
		TTL:           ec.LeaseTTL(),
		RenewInterval: ec.RenewInterval(),
	}, electionLogger)
}
