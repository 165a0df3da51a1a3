package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/docbench/internal/metrics"
	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultCollection is the collection (or table) name used when none is configured.
const DefaultCollection = "benchmark-test"

// Backend is a single logical collection in a document store.
type Backend interface {
	// Insert persists rec. A unique index violation on data.id must be
	// reported as an error wrapping ErrDuplicate.
	Insert(ctx context.Context, rec *models.Record) error

	// FindOne returns the first record matching every key set in q, or
	// nil with no error when nothing matches. Storage-internal identifiers
	// are never part of the returned record.
	FindOne(ctx context.Context, q models.Query) (*models.Record, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context) (uint64, error)

	// DeleteAll removes every record. Destructive.
	DeleteAll(ctx context.Context) error

	// EnsureIndexes creates the unique data.id index and the non-unique
	// data.notUnique index if they do not exist.
	EnsureIndexes(ctx context.Context) error

	// Type returns the backend identifier ("mongo", "postgres", ...)
	Type() string

	// Close releases connections held by the backend
	Close() error
}

// Collection wraps a Backend with argument validation, error
// classification and operation metrics.
type Collection struct {
	backend Backend
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewCollection creates a collection facade. A nil m uses the process-wide metrics.
func NewCollection(backend Backend, m *metrics.Metrics, logger zerolog.Logger) *Collection {
	if m == nil {
		m = metrics.Get()
	}
	return &Collection{
		backend: backend,
		metrics: m,
		logger:  logger.With().Str("component", "collection").Str("backend", backend.Type()).Logger(),
	}
}

// Insert stores rec. Duplicate ids surface as ErrDuplicate.
func (c *Collection) Insert(ctx context.Context, rec models.Record) error {
	start := time.Now()
	err := c.backend.Insert(ctx, &rec)
	c.metrics.RecordOpLatency(time.Since(start))

	switch {
	case err == nil:
		c.metrics.IncInserts()
		return nil
	case errors.Is(err, ErrDuplicate):
		c.metrics.IncInsertDuplicates()
		return fmt.Errorf("insert %s: %w", rec.Data.ID, err)
	default:
		c.metrics.IncInsertErrors()
		return fmt.Errorf("insert %s: %w", rec.Data.ID, err)
	}
}

// Get returns the record matching q. The query is validated before the
// backend is touched; a missing record yields ErrNotFound.
func (c *Collection) Get(ctx context.Context, q models.Query) (*models.Record, error) {
	if err := q.Validate(); err != nil {
		c.metrics.IncReadsInvalid()
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	start := time.Now()
	rec, err := c.backend.FindOne(ctx, q)
	c.metrics.RecordOpLatency(time.Since(start))

	if err != nil {
		c.metrics.IncReadErrors()
		return nil, fmt.Errorf("find one: %w", err)
	}
	if rec == nil {
		c.metrics.IncReadNotFound()
		return nil, ErrNotFound
	}
	c.metrics.IncReads()
	return rec, nil
}

// Count returns the authoritative record count.
func (c *Collection) Count(ctx context.Context) (uint64, error) {
	c.metrics.IncCountPolls()
	n, err := c.backend.Count(ctx)
	if err != nil {
		c.metrics.IncCountPollErrors()
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Clear deletes every record in the collection.
func (c *Collection) Clear(ctx context.Context) error {
	c.logger.Warn().Msg("Deleting all records from collection")
	if err := c.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

// Backend returns the underlying backend.
func (c *Collection) Backend() Backend {
	return c.backend
}

// Close closes the underlying backend.
func (c *Collection) Close() error {
	return c.backend.Close()
}
