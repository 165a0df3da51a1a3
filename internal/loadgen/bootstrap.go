package loadgen

import (
	"context"
	"fmt"

	"github.com/basekick-labs/docbench/internal/dispatch"
	"github.com/basekick-labs/docbench/internal/record"
	"github.com/basekick-labs/docbench/internal/store"
	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/rs/zerolog"
)

// Bootstrap fills the store with enough records for read mode and keeps
// the ones it wrote.
type Bootstrap struct {
	coll   *store.Collection
	gen    *record.Generator
	writer dispatch.Options
	batch  int
	clear  bool
	logger zerolog.Logger
}

// NewBootstrap creates a bootstrap that writes batches of batchSize records
// using opts. With clearExisting set every record in the collection is
// deleted before filling.
func NewBootstrap(coll *store.Collection, gen *record.Generator, batchSize int, opts dispatch.Options, clearExisting bool, logger zerolog.Logger) *Bootstrap {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Bootstrap{
		coll:   coll,
		gen:    gen,
		writer: opts,
		batch:  batchSize,
		clear:  clearExisting,
		logger: logger.With().Str("component", "bootstrap").Logger(),
	}
}

// EnsureSample writes batches until the store holds at least target records
// and the returned set holds at least target of the records written here.
func (b *Bootstrap) EnsureSample(ctx context.Context, target int) (*SampleSet, error) {
	if target <= 0 {
		return NewSampleSet(nil), nil
	}

	if b.clear {
		b.logger.Warn().Msg("Clearing existing records before building the read sample")
		if err := b.coll.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear existing records: %w", err)
		}
	}

	records := make([]models.Record, 0, target)
	for {
		count, err := b.coll.Count(ctx)
		if err != nil {
			return nil, err
		}
		if count >= uint64(target) && len(records) >= target {
			break
		}

		batch := b.gen.Batch(b.batch)
		if err := dispatch.Run(ctx, batch, b.writer, func(ctx context.Context, rec models.Record) error {
			return b.coll.Insert(ctx, rec)
		}); err != nil {
			return nil, fmt.Errorf("bootstrap write: %w", err)
		}
		records = append(records, batch...)

		b.logger.Debug().
			Uint64("count", count+uint64(len(batch))).
			Int("sample", len(records)).
			Int("target", target).
			Msg("Bootstrap batch written")
	}

	b.logger.Info().Int("sample", len(records)).Msg("Read sample ready")
	return NewSampleSet(records), nil
}
