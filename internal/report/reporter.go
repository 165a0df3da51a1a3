package report

import (
	"context"
	"time"

	"github.com/basekick-labs/docbench/internal/election"
	"github.com/rs/zerolog"
)

// Config holds reporter configuration
type Config struct {
	// Label names the counter in status lines, e.g. "write" or "read".
	Label string
	// Interval between samples.
	Interval time.Duration
}

// Reporter samples a Counter every interval and logs count, delta and
// per-second throughput.
type Reporter struct {
	counter Counter
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

// NewReporter creates a reporter over counter.
func NewReporter(counter Counter, cfg Config, logger zerolog.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Reporter{
		counter: counter,
		cfg:     cfg,
		logger:  logger.With().Str("component", "reporter").Str("counter", cfg.Label).Logger(),
		now:     time.Now,
	}
}

// Run logs a status line every interval until ctx is done. A failed tick
// is logged and skipped; the previous sample is kept for the next one.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("Reporter started")

	var prev Sample
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reporter stopped")
			return
		case <-ticker.C:
		}

		next, err := r.Tick(ctx, prev)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info().Msg("Reporter stopped")
				return
			}
			r.logger.Warn().Err(err).Msg("Failed to sample counter")
			continue
		}
		prev = next
	}
}

// Tick takes one sample, logs it against prev and returns it.
func (r *Reporter) Tick(ctx context.Context, prev Sample) (Sample, error) {
	count, err := r.counter.Count(ctx)
	if err != nil {
		return prev, err
	}
	cur := Sample{TimestampMs: r.now().UnixMilli(), Count: count}

	perSec, ok := Throughput(prev, cur)
	if !ok {
		r.logger.Info().Uint64("count", cur.Count).Msg("Status")
		return cur, nil
	}

	r.logger.Info().
		Uint64("count", cur.Count).
		Uint64("delta", Delta(prev, cur)).
		Uint64("per_second", perSec).
		Msg("Status")
	return cur, nil
}

// Start registers r under name so that only the elected process reports.
func Start(e election.Elector, name string, r *Reporter) (election.Handle, error) {
	return e.Register(name, r.Run)
}
