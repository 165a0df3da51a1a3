package record

import (
	"time"

	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/google/uuid"
)

// Generator produces synthetic benchmark records.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NewGeneratorWithClock creates a generator with a fixed time source (tests).
func NewGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate returns a record with fresh random keys. Both keys are 128-bit
// random tokens, so id collisions are not expected at benchmark batch sizes.
func (g *Generator) Generate() models.Record {
	ts := g.now().UnixMilli()
	return models.Record{
		Meta: models.Meta{Created: ts, Updated: ts},
		Data: models.Data{
			ID:        uuid.NewString(),
			NotUnique: uuid.NewString(),
		},
	}
}

// Batch returns n freshly generated records.
func (g *Generator) Batch(n int) []models.Record {
	if n <= 0 {
		return nil
	}
	batch := make([]models.Record, n)
	for i := range batch {
		batch[i] = g.Generate()
	}
	return batch
}
