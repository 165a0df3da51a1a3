package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basekick-labs/docbench/internal/circuitbreaker"
	"github.com/basekick-labs/docbench/internal/config"
	"github.com/basekick-labs/docbench/internal/dispatch"
	"github.com/basekick-labs/docbench/internal/election"
	"github.com/basekick-labs/docbench/internal/loadgen"
	"github.com/basekick-labs/docbench/internal/logger"
	"github.com/basekick-labs/docbench/internal/metrics"
	"github.com/basekick-labs/docbench/internal/report"
	"github.com/basekick-labs/docbench/internal/shutdown"
	"github.com/basekick-labs/docbench/internal/store"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

// tallyBuffer bounds pending read-completion notifications.
const tallyBuffer = 256

func main() {
	// Check for subcommands before loading full config
	if len(os.Args) > 1 && os.Args[1] == "reset" {
		os.Exit(runResetSubcommand(os.Args[2:]))
	}

	modeFlag := flag.String("mode", "", "Benchmark mode: write, read or unknown (overrides DOCBENCH_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	mode := loadgen.ParseMode(cfg.Mode)
	log.Info().
		Str("version", Version).
		Str("mode", mode.String()).
		Str("storage", cfg.Storage.Backend).
		Str("election", cfg.Election.Backend).
		Msg("Starting docbench...")

	m := metrics.Init(logger.Get("metrics"))
	coordinator := shutdown.New(cfg.Shutdown.Timeout(), logger.Get("shutdown"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coll, err := openCollection(ctx, cfg, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage backend")
	}
	coordinator.Register("storage", coll, shutdown.PriorityStorage)

	elector, err := openElector(ctx, cfg, coordinator)
	if err != nil {
		coll.Close()
		log.Fatal().Err(err).Msg("Failed to start leader election")
	}
	coordinator.Register("election", elector, shutdown.PriorityElection)

	var tally *report.Tally
	if mode == loadgen.ModeRead {
		tally = report.NewTally(tallyBuffer)
		go tally.Run(ctx)
	}

	if mode != loadgen.ModeUnknown {
		handle, err := startReporter(cfg, mode, coll, tally, elector)
		if err != nil {
			elector.Close()
			coll.Close()
			log.Fatal().Err(err).Msg("Failed to start reporter")
		}
		coordinator.RegisterHook("reporter", func(ctx context.Context) error {
			handle.Stop()
			return nil
		}, shutdown.PriorityReporter)
	}

	driver := loadgen.NewDriver(coll, tally, m, loadgen.Config{
		WriteBatchSize:   cfg.Write.BatchSize,
		WriteConcurrency: cfg.Write.Concurrency,
		ReadBatchSize:    cfg.Read.BatchSize,
		ReadConcurrency:  cfg.Read.Concurrency,
		SampleSize:       cfg.Read.SampleSize,
		ClearExisting:    cfg.Read.ClearExisting,
		Lookup:           loadgen.Lookup(cfg.Read.Lookup),
		Limiter:          dispatch.NewLimiter(cfg.Dispatch.MaxOpsPerSec),
	}, logger.Get("driver"))

	var runErr error
	stopped := make(chan struct{})
	go func() {
		runErr = driver.Run(ctx, mode)
		close(stopped)
		// A failed loop ends the process the same way a signal does
		coordinator.TriggerShutdown()
	}()

	coordinator.RegisterHook("driver", func(hctx context.Context) error {
		cancel()
		select {
		case <-stopped:
			return nil
		case <-hctx.Done():
			return hctx.Err()
		}
	}, shutdown.PriorityDriver)
	coordinator.RegisterHook("metrics", func(context.Context) error {
		m.LogSummary(logger.Get("metrics"))
		return nil
	}, shutdown.PriorityMetrics)

	sig := coordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	exitCode := 0
	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		exitCode = 1
	}

	select {
	case <-stopped:
		if runErr != nil {
			log.Error().Err(runErr).Int("status", store.StatusCode(runErr)).Msg("Benchmark failed")
			exitCode = 1
		}
	default:
	}

	log.Info().Msg("docbench shutdown complete")
	os.Exit(exitCode)
}

func storeConfig(cfg *config.Config) *store.Config {
	return &store.Config{
		Backend:          cfg.Storage.Backend,
		Collection:       cfg.Storage.Collection,
		MongoURI:         cfg.Storage.MongoURI,
		MongoDatabase:    cfg.Storage.MongoDatabase,
		PostgresDSN:      cfg.Storage.PostgresDSN,
		PostgresMaxConns: int32(cfg.Storage.PostgresMaxConns),
		SQLitePath:       cfg.Storage.SQLitePath,
	}
}

func openCollection(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*store.Collection, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	backend, err := store.Open(connectCtx, storeConfig(cfg), logger.Get("storage"))
	if err != nil {
		return nil, err
	}
	return store.NewCollection(backend, m, logger.Get("collection")), nil
}

// startReporter registers the throughput reporter for mode. Write mode
// polls the store's record count; read mode counts completed lookups.
func startReporter(cfg *config.Config, mode loadgen.Mode, coll *store.Collection, tally *report.Tally, elector election.Elector) (election.Handle, error) {
	var counter report.Counter
	switch mode {
	case loadgen.ModeRead:
		counter = tally
	default:
		cb := circuitbreaker.New(&circuitbreaker.Config{
			Name:        "record-count",
			MaxFailures: cfg.Report.BreakerFailures,
			Timeout:     cfg.Report.BreakerTimeout(),
		}, logger.Get("circuit-breaker"))
		counter = report.BackendCounter(coll, cb)
	}

	reporter := report.NewReporter(counter, report.Config{
		Label:    mode.String(),
		Interval: cfg.Report.Interval(),
	}, logger.Get("reporter"))

	name := fmt.Sprintf("docbench/%s/%s-rate", cfg.Storage.Collection, mode)
	return report.Start(elector, name, reporter)
}
