package pipeline

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// RollupEngine materializes hourly per-segment statistics from canonical
// records. Every run recomputes each touched (segment, hour) from scratch.
type RollupEngine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRollupEngine creates the rollup materializer.
func NewRollupEngine(st *store.Store, logger *slog.Logger, metrics *observability.Metrics) *RollupEngine {
	return &RollupEngine{store: st, logger: logger, metrics: metrics}
}

// RollupHour recomputes one (segment, hour) rollup. With no analyzable
// samples in the hour nothing is written and false is returned; an existing
// rollup for that hour is left as is.
func (e *RollupEngine) RollupHour(ctx context.Context, segmentID string, hour time.Time) (bool, error) {
	hour = hour.UTC().Truncate(time.Hour)

	samples, err := e.store.RoughnessSamples(ctx, segmentID, hour)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		return false, nil
	}

	roughness := make([]float64, len(samples))
	quality := make([]float64, 0, len(samples))
	for i, s := range samples {
		roughness[i] = s.Roughness
		if s.Quality != nil {
			quality = append(quality, *s.Quality)
		}
	}

	p50, _ := domain.Percentile(roughness, 0.50)
	p95, _ := domain.Percentile(roughness, 0.95)
	// Quality averages only the rows that report a confidence; the neutral
	// prior stands in when none do.
	avgQuality := domain.NeutralQualityPrior
	if len(quality) > 0 {
		avgQuality = stat.Mean(quality, nil)
	}

	rollup := domain.HourlyRollup{
		SegmentKey:   segmentID,
		HourBucket:   hour,
		SampleCount:  len(samples),
		AvgRoughness: stat.Mean(roughness, nil),
		P50Roughness: p50,
		P95Roughness: p95,
		AvgQuality:   avgQuality,
		Score:        domain.ComputeScore(p50, p95),
		Confidence:   domain.ComputeConfidence(len(samples), avgQuality),
		UpdatedAt:    clock.Now().UTC(),
	}
	if err := e.store.UpsertRollup(ctx, rollup); err != nil {
		return false, err
	}
	e.metrics.RollupsWritten.Inc()
	return true, nil
}

// RollupPairs recomputes the given (segment, hour) pairs and returns how
// many rollups were written.
func (e *RollupEngine) RollupPairs(ctx context.Context, pairs []store.SegmentHour) (int, error) {
	written := 0
	for _, sh := range pairs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		ok, err := e.RollupHour(ctx, sh.SegmentID, sh.HourBucket)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}
	return written, nil
}

// RollupSince recomputes every (segment, hour) touched by records received
// at or after the cutoff.
func (e *RollupEngine) RollupSince(ctx context.Context, since time.Time) (int, error) {
	start := clock.Now()
	defer func() {
		e.metrics.JobDuration.WithLabelValues("rollup").Observe(clock.Since(start).Seconds())
	}()

	pairs, err := e.store.TouchedSegmentHours(ctx, since)
	if err != nil {
		return 0, err
	}
	written, err := e.RollupPairs(ctx, pairs)
	if err != nil {
		return written, err
	}
	e.logger.Info("rollup run complete", "touched", len(pairs), "written", written)
	return written, nil
}
