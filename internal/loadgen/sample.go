package loadgen

import (
	"math/rand/v2"

	"github.com/basekick-labs/docbench/pkg/models"
)

// SampleSet holds records known to exist in the store. It is filled once by
// Bootstrap and only read afterwards.
type SampleSet struct {
	records []models.Record
}

// NewSampleSet wraps records; the slice must not be modified afterwards.
func NewSampleSet(records []models.Record) *SampleSet {
	return &SampleSet{records: records}
}

// Len returns the number of records in the set.
func (s *SampleSet) Len() int {
	return len(s.records)
}

// At returns the i-th record.
func (s *SampleSet) At(i int) models.Record {
	return s.records[i]
}

// Pick returns a uniformly random record, with replacement. It panics on
// an empty set.
func (s *SampleSet) Pick(rng *rand.Rand) models.Record {
	return s.records[rng.IntN(len(s.records))]
}

// Keys returns the lookup query for every record in the set.
func (s *SampleSet) Keys(lookup Lookup) []models.Query {
	keys := make([]models.Query, len(s.records))
	for i, rec := range s.records {
		keys[i] = lookup.Query(rec)
	}
	return keys
}

// Lookup selects which key read mode queries by.
type Lookup string

const (
	LookupID        Lookup = "id"
	LookupNotUnique Lookup = "notUnique"
)

// Query builds the lookup for rec.
func (l Lookup) Query(rec models.Record) models.Query {
	if l == LookupNotUnique {
		return models.ByNotUnique(rec.Data.NotUnique)
	}
	return models.ByID(rec.Data.ID)
}
