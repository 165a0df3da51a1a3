package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds in-process operation counters for a benchmark run.
// Nothing is exported over the network; Snapshot is logged at shutdown.
type Metrics struct {
	startTime time.Time

	// Insert metrics
	insertsTotal     atomic.Int64
	insertDuplicates atomic.Int64
	insertErrors     atomic.Int64

	// Lookup metrics
	readsTotal   atomic.Int64
	readNotFound atomic.Int64
	readErrors   atomic.Int64
	readsInvalid atomic.Int64

	// Storage latency (microseconds)
	opLatencySum   atomic.Int64
	opLatencyCount atomic.Int64

	// Batch metrics
	writeBatches atomic.Int64
	readBatches  atomic.Int64

	// Counter polls
	countPolls      atomic.Int64
	countPollErrors atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// New creates an independent metrics instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now(), logger: zerolog.Nop()}
}

// Get returns the process-wide metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// Init attaches a logger to the process-wide instance
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Debug().Msg("Metrics collector initialized")
	return m
}

// Insert metrics
func (m *Metrics) IncInserts()          { m.insertsTotal.Add(1) }
func (m *Metrics) IncInsertDuplicates() { m.insertDuplicates.Add(1) }
func (m *Metrics) IncInsertErrors()     { m.insertErrors.Add(1) }

// Lookup metrics
func (m *Metrics) IncReads()        { m.readsTotal.Add(1) }
func (m *Metrics) IncReadNotFound() { m.readNotFound.Add(1) }
func (m *Metrics) IncReadErrors()   { m.readErrors.Add(1) }
func (m *Metrics) IncReadsInvalid() { m.readsInvalid.Add(1) }

// Batch metrics
func (m *Metrics) IncWriteBatches() { m.writeBatches.Add(1) }
func (m *Metrics) IncReadBatches()  { m.readBatches.Add(1) }

// Counter poll metrics
func (m *Metrics) IncCountPolls()      { m.countPolls.Add(1) }
func (m *Metrics) IncCountPollErrors() { m.countPollErrors.Add(1) }

// RecordOpLatency records a single storage operation latency.
func (m *Metrics) RecordOpLatency(d time.Duration) {
	m.opLatencySum.Add(d.Microseconds())
	m.opLatencyCount.Add(1)
}

// Inserts returns the number of successful inserts.
func (m *Metrics) Inserts() int64 { return m.insertsTotal.Load() }

// Reads returns the number of successful lookups.
func (m *Metrics) Reads() int64 { return m.readsTotal.Load() }

// AvgOpLatency returns the mean storage operation latency, or 0 before any op.
func (m *Metrics) AvgOpLatency() time.Duration {
	count := m.opLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(m.opLatencySum.Load()/count) * time.Microsecond
}

// Snapshot returns all metrics as a map
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),

		"inserts_total":     m.insertsTotal.Load(),
		"insert_duplicates": m.insertDuplicates.Load(),
		"insert_errors":     m.insertErrors.Load(),

		"reads_total":    m.readsTotal.Load(),
		"read_not_found": m.readNotFound.Load(),
		"read_errors":    m.readErrors.Load(),
		"reads_invalid":  m.readsInvalid.Load(),

		"op_latency_sum_us": m.opLatencySum.Load(),
		"op_latency_count":  m.opLatencyCount.Load(),
		"op_latency_avg_us": m.AvgOpLatency().Microseconds(),

		"write_batches": m.writeBatches.Load(),
		"read_batches":  m.readBatches.Load(),

		"count_polls":       m.countPolls.Load(),
		"count_poll_errors": m.countPollErrors.Load(),
	}
}

// LogSummary writes the snapshot as a single structured log line.
func (m *Metrics) LogSummary(logger zerolog.Logger) {
	logger.Info().Fields(m.Snapshot()).Msg("Run summary")
}
