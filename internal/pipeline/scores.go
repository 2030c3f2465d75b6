package pipeline

import (
	"context"
	"log/slog"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// ScoreEngine materializes rolling-window smoothness scores per segment.
type ScoreEngine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScoreEngine creates the window-score materializer.
func NewScoreEngine(st *store.Store, logger *slog.Logger, metrics *observability.Metrics) *ScoreEngine {
	return &ScoreEngine{store: st, logger: logger, metrics: metrics}
}

// ScoreStats summarizes one scoring run.
type ScoreStats struct {
	SegmentsScored int `json:"segments_scored"`
	RowsUsed       int `json:"rows_used"`
}

// Recompute rescores every segment with enough analyzable evidence in the
// trailing window. Segments below the row floor keep whatever score they had
// from an earlier run; they are never scored on thin data.
func (e *ScoreEngine) Recompute(ctx context.Context, windowDays, minRows int) (ScoreStats, error) {
	start := clock.Now()
	defer func() {
		e.metrics.JobDuration.WithLabelValues("scores").Observe(clock.Since(start).Seconds())
	}()

	now := clock.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	segments, err := e.store.WindowSegmentStats(ctx, since, minRows)
	if err != nil {
		return ScoreStats{}, err
	}

	var stats ScoreStats
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		shocks, err := e.store.ShockValues(ctx, seg.SegmentID, since)
		if err != nil {
			return stats, err
		}
		shockP95, _ := domain.Percentile(shocks, 0.95)

		score := domain.SegmentScore{
			SegmentID:      seg.SegmentID,
			WindowDays:     windowDays,
			RowsUsed:       seg.RowsUsed,
			Score:          domain.WindowScore(seg.RoughnessMean, shockP95, seg.ConfidenceMean),
			RoughnessMean:  seg.RoughnessMean,
			ShockP95:       shockP95,
			ConfidenceMean: seg.ConfidenceMean,
			UpdatedAt:      now,
		}
		if err := e.store.UpsertScore(ctx, score); err != nil {
			return stats, err
		}
		e.metrics.ScoresWritten.Inc()
		stats.SegmentsScored++
		stats.RowsUsed += seg.RowsUsed
	}

	e.logger.Info("score run complete",
		"window_days", windowDays, "segments_scored", stats.SegmentsScored, "rows_used", stats.RowsUsed)
	return stats, nil
}
