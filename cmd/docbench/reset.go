package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basekick-labs/docbench/internal/config"
	"github.com/basekick-labs/docbench/internal/logger"
	"github.com/basekick-labs/docbench/internal/metrics"
	"github.com/rs/zerolog/log"
)

// runResetSubcommand deletes every record in the benchmark collection.
// It refuses to run without -yes.
func runResetSubcommand(args []string) int {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm deleting every record in the configured collection")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if !*yes {
		fmt.Fprintf(os.Stderr, "error: reset deletes every record in %s collection %q; pass -yes to confirm\n",
			cfg.Storage.Backend, cfg.Storage.Collection)
		return 2
	}

	ctx := context.Background()
	coll, err := openCollection(ctx, cfg, metrics.Get())
	if err != nil {
		log.Error().Err(err).Msg("Failed to open storage backend")
		return 1
	}
	defer coll.Close()

	before, err := coll.Count(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count records")
		return 1
	}
	if err := coll.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear collection")
		return 1
	}

	log.Info().
		Str("collection", cfg.Storage.Collection).
		Uint64("deleted", before).
		Msg("Collection reset")
	return 0
}
