package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/basekick-labs/docbench/internal/dispatch"
	"github.com/basekick-labs/docbench/internal/metrics"
	"github.com/basekick-labs/docbench/internal/record"
	"github.com/basekick-labs/docbench/internal/report"
	"github.com/basekick-labs/docbench/internal/store"
	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrEmptySample is returned when read mode has nothing to look up.
var ErrEmptySample = errors.New("read sample is empty")

// Config holds driver configuration
type Config struct {
	WriteBatchSize   int
	WriteConcurrency int

	ReadBatchSize   int
	ReadConcurrency int
	SampleSize      int
	ClearExisting   bool
	Lookup          Lookup

	// Limiter caps operation starts across all loops; nil means unlimited.
	Limiter *rate.Limiter
}

// Driver runs the loop selected by a Mode against one collection.
type Driver struct {
	coll    *store.Collection
	gen     *record.Generator
	tally   *report.Tally
	metrics *metrics.Metrics
	cfg     Config
	rng     *rand.Rand
	logger  zerolog.Logger
}

// NewDriver creates a driver. tally receives read completions and may be
// nil outside read mode. A nil m uses the process-wide metrics.
func NewDriver(coll *store.Collection, tally *report.Tally, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Driver {
	if m == nil {
		m = metrics.Get()
	}
	if cfg.Lookup == "" {
		cfg.Lookup = LookupID
	}
	return &Driver{
		coll:    coll,
		gen:     record.NewGenerator(),
		tally:   tally,
		metrics: m,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:  logger.With().Str("component", "driver").Logger(),
	}
}

// Run runs the loop for mode until ctx is done or an operation fails.
// Cancellation is a clean stop and returns nil.
func (d *Driver) Run(ctx context.Context, mode Mode) error {
	d.logger.Info().Str("mode", mode.String()).Msg("Starting benchmark")

	var err error
	switch mode {
	case ModeWrite:
		err = d.writeLoop(ctx)
	case ModeRead:
		err = d.readLoop(ctx)
	default:
		err = d.idle(ctx)
	}

	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Driver) writeLoop(ctx context.Context) error {
	opts := dispatch.Options{Concurrency: d.cfg.WriteConcurrency, Limiter: d.cfg.Limiter}

	for ctx.Err() == nil {
		batch := d.gen.Batch(d.cfg.WriteBatchSize)
		if err := dispatch.Run(ctx, batch, opts, d.insert); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		d.metrics.IncWriteBatches()
	}
	return ctx.Err()
}

func (d *Driver) insert(ctx context.Context, rec models.Record) error {
	return d.coll.Insert(ctx, rec)
}

func (d *Driver) readLoop(ctx context.Context) error {
	writer := dispatch.Options{Concurrency: d.cfg.WriteConcurrency, Limiter: d.cfg.Limiter}
	bootstrap := NewBootstrap(d.coll, d.gen, d.cfg.WriteBatchSize, writer, d.cfg.ClearExisting, d.logger)

	sample, err := bootstrap.EnsureSample(ctx, d.cfg.SampleSize)
	if err != nil {
		return err
	}
	if sample.Len() == 0 {
		return ErrEmptySample
	}

	opts := dispatch.Options{Concurrency: d.cfg.ReadConcurrency, Limiter: d.cfg.Limiter}
	keys := make([]models.Query, d.cfg.ReadBatchSize)

	for ctx.Err() == nil {
		for i := range keys {
			keys[i] = d.cfg.Lookup.Query(sample.Pick(d.rng))
		}
		if err := dispatch.Run(ctx, keys, opts, d.lookup); err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		d.metrics.IncReadBatches()

		if d.tally != nil {
			if err := d.tally.Notify(ctx, len(keys)); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (d *Driver) lookup(ctx context.Context, q models.Query) error {
	_, err := d.coll.Get(ctx, q)
	return err
}

func (d *Driver) idle(ctx context.Context) error {
	count, err := d.coll.Count(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to count records")
	} else {
		d.logger.Info().Uint64("count", count).Msg("No benchmark mode selected; idling")
	}

	<-ctx.Done()
	return nil
}
