package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/basekick-labs/docbench/pkg/models"
)

// MemoryBackend keeps records in process memory. It enforces the same
// uniqueness contract as the real stores and is used for dry runs.
type MemoryBackend struct {
	mu          sync.RWMutex
	byID        map[string]models.Record
	byNotUnique map[string][]string
	closed      bool
}

// NewMemoryBackend creates an empty in-memory collection.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		byID:        make(map[string]models.Record),
		byNotUnique: make(map[string][]string),
	}
}

func (m *MemoryBackend) Insert(ctx context.Context, rec *models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("memory backend closed")
	}
	if _, exists := m.byID[rec.Data.ID]; exists {
		return fmt.Errorf("%w: data.id %q", ErrDuplicate, rec.Data.ID)
	}
	m.byID[rec.Data.ID] = *rec
	m.byNotUnique[rec.Data.NotUnique] = append(m.byNotUnique[rec.Data.NotUnique], rec.Data.ID)
	return nil
}

func (m *MemoryBackend) FindOne(ctx context.Context, q models.Query) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if q.ID != "" {
		rec, ok := m.byID[q.ID]
		if !ok || (q.NotUnique != "" && rec.Data.NotUnique != q.NotUnique) {
			return nil, nil
		}
		return &rec, nil
	}

	ids := m.byNotUnique[q.NotUnique]
	if len(ids) == 0 {
		return nil, nil
	}
	rec := m.byID[ids[0]]
	return &rec, nil
}

func (m *MemoryBackend) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.byID)), nil
}

func (m *MemoryBackend) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]models.Record)
	m.byNotUnique = make(map[string][]string)
	return nil
}

// EnsureIndexes is a no-op; the maps are the indexes.
func (m *MemoryBackend) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MemoryBackend) Type() string { return "memory" }

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
