package loadgen

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basekick-labs/docbench/internal/dispatch"
	"github.com/basekick-labs/docbench/internal/metrics"
	"github.com/basekick-labs/docbench/internal/record"
	"github.com/basekick-labs/docbench/internal/report"
	"github.com/basekick-labs/docbench/internal/store"
	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T) (*store.Collection, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return store.NewCollection(store.NewMemoryBackend(), m, zerolog.Nop()), m
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"write", ModeWrite},
		{"READ", ModeRead},
		{" read ", ModeRead},
		{"", ModeUnknown},
		{"inspect", ModeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseMode(tt.in), tt.in)
	}
	assert.Equal(t, "write", ModeWrite.String())
	assert.Equal(t, "unknown", ModeUnknown.String())
}

func TestSampleSet(t *testing.T) {
	gen := record.NewGenerator()
	recs := gen.Batch(3)
	s := NewSampleSet(recs)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, recs[1], s.At(1))

	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[s.Pick(rng).Data.ID] = true
	}
	assert.Len(t, seen, 3, "every record should be drawn eventually")

	ids := s.Keys(LookupID)
	assert.Equal(t, models.ByID(recs[0].Data.ID), ids[0])
	byNU := s.Keys(LookupNotUnique)
	assert.Equal(t, models.ByNotUnique(recs[2].Data.NotUnique), byNU[2])
}

func TestEnsureSampleZeroTarget(t *testing.T) {
	coll, m := newTestCollection(t)
	b := NewBootstrap(coll, record.NewGenerator(), 10, dispatch.Options{Concurrency: 2}, true, zerolog.Nop())

	set, err := b.EnsureSample(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Zero(t, m.Inserts(), "zero target must not touch the store")
}

func TestEnsureSampleFillsStore(t *testing.T) {
	ctx := context.Background()
	coll, _ := newTestCollection(t)
	b := NewBootstrap(coll, record.NewGenerator(), 7, dispatch.Options{Concurrency: 3}, false, zerolog.Nop())

	set, err := b.EnsureSample(ctx, 20)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, set.Len(), 20)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, uint64(20))

	// Every sampled key must be readable.
	for _, q := range set.Keys(LookupID) {
		_, err := coll.Get(ctx, q)
		require.NoError(t, err)
	}
}

func TestEnsureSampleWithExistingData(t *testing.T) {
	ctx := context.Background()
	coll, _ := newTestCollection(t)
	gen := record.NewGenerator()
	for _, rec := range gen.Batch(30) {
		require.NoError(t, coll.Insert(ctx, rec))
	}

	t.Run("keep", func(t *testing.T) {
		b := NewBootstrap(coll, gen, 5, dispatch.Options{Concurrency: 2}, false, zerolog.Nop())
		set, err := b.EnsureSample(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, set.Len(), "sample must still hold known keys")

		count, _ := coll.Count(ctx)
		assert.Equal(t, uint64(40), count)
	})

	t.Run("clear", func(t *testing.T) {
		b := NewBootstrap(coll, gen, 5, dispatch.Options{Concurrency: 2}, true, zerolog.Nop())
		set, err := b.EnsureSample(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, set.Len())

		count, _ := coll.Count(ctx)
		assert.Equal(t, uint64(10), count, "existing records should have been deleted")
	})
}

func runDriver(t *testing.T, d *Driver, mode Mode, until func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, mode) }()

	require.Eventually(t, until, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop after cancel")
		return nil
	}
}

func TestDriverWriteMode(t *testing.T) {
	coll, m := newTestCollection(t)
	d := NewDriver(coll, nil, m, Config{WriteBatchSize: 10, WriteConcurrency: 4}, zerolog.Nop())

	err := runDriver(t, d, ModeWrite, func() bool { return m.Inserts() >= 50 })
	assert.NoError(t, err, "cancellation is a clean stop")

	count, err := coll.Count(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, uint64(50))
	assert.Equal(t, count, uint64(m.Inserts()))
}

func TestDriverReadMode(t *testing.T) {
	for _, lookup := range []Lookup{LookupID, LookupNotUnique} {
		t.Run(string(lookup), func(t *testing.T) {
			coll, m := newTestCollection(t)
			tally := report.NewTally(8)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go tally.Run(ctx)

			d := NewDriver(coll, tally, m, Config{
				WriteBatchSize:   10,
				WriteConcurrency: 4,
				ReadBatchSize:    5,
				ReadConcurrency:  2,
				SampleSize:       25,
				Lookup:           lookup,
			}, zerolog.Nop())

			err := runDriver(t, d, ModeRead, func() bool {
				n, _ := tally.Count(ctx)
				return n >= 100
			})
			assert.NoError(t, err)

			n, _ := tally.Count(ctx)
			assert.Zero(t, n%5, "tally grows by whole batches")
			assert.GreaterOrEqual(t, m.Reads(), int64(n))
			assert.GreaterOrEqual(t, m.Inserts(), int64(25))
		})
	}
}

func TestDriverReadModeEmptySample(t *testing.T) {
	coll, m := newTestCollection(t)
	d := NewDriver(coll, nil, m, Config{WriteBatchSize: 10, WriteConcurrency: 1, ReadBatchSize: 5, ReadConcurrency: 1}, zerolog.Nop())

	err := d.Run(context.Background(), ModeRead)
	assert.ErrorIs(t, err, ErrEmptySample)
}

// failingInsertBackend fails inserts after a number of successes.
type failingInsertBackend struct {
	*store.MemoryBackend
	remaining atomic.Int32
}

func (b *failingInsertBackend) Insert(ctx context.Context, rec *models.Record) error {
	if b.remaining.Add(-1) < 0 {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Insert(ctx, rec)
}

func TestDriverWriteModeStopsOnError(t *testing.T) {
	backend := &failingInsertBackend{MemoryBackend: store.NewMemoryBackend()}
	backend.remaining.Store(25)
	m := metrics.New()
	coll := store.NewCollection(backend, m, zerolog.Nop())

	d := NewDriver(coll, nil, m, Config{WriteBatchSize: 10, WriteConcurrency: 3}, zerolog.Nop())
	err := d.Run(context.Background(), ModeWrite)
	require.Error(t, err)

	var itemErr *dispatch.ItemError
	assert.ErrorAs(t, err, &itemErr)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDriverIdleMode(t *testing.T) {
	coll, m := newTestCollection(t)
	d := NewDriver(coll, nil, m, Config{}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, d.Run(ctx, ModeUnknown))
	assert.Zero(t, m.Inserts())
}
