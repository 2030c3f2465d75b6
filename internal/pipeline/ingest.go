// Package pipeline orchestrates the telemetry flow: ingest envelopes into
// canonical records, enrich them with geography, and materialize rollups and
// window scores.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// Ingestor turns raw payloads into stored canonical records and derived
// road events.
type Ingestor struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewIngestor creates the ingest stage.
func NewIngestor(st *store.Store, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{store: st, logger: logger, metrics: metrics}
}

// IngestResult summarizes one processed envelope.
type IngestResult struct {
	Accepted  int     `json:"accepted"`
	Skipped   int     `json:"skipped"`
	Events    int     `json:"events"`
	RecordIDs []int64 `json:"record_ids,omitempty"`
}

// Ingest normalizes one envelope, persists the surviving records, and derives
// and persists their road events. A skipped item never aborts the batch.
func (i *Ingestor) Ingest(ctx context.Context, payload map[string]any) (IngestResult, error) {
	start := clock.Now()

	env, err := domain.NormalizeEnvelope(payload)
	if err != nil {
		return IngestResult{}, fmt.Errorf("normalize envelope: %w", err)
	}

	result := IngestResult{Skipped: env.Skipped}
	for _, rec := range env.Records {
		id, err := i.store.InsertRecord(ctx, rec)
		if err != nil {
			return result, fmt.Errorf("persist record: %w", err)
		}
		rec.ID = id
		result.Accepted++
		result.RecordIDs = append(result.RecordIDs, id)
		for _, tag := range rec.QualityNote {
			if domain.IsSanityTag(tag) {
				i.metrics.AnomaliesTagged.WithLabelValues(tag).Inc()
			}
		}

		events := domain.Analyze(rec)
		for j := range events {
			events[j].AggregateID = id
			events[j].SegmentID = rec.SegmentID
		}
		if err := i.store.InsertEvents(ctx, events); err != nil {
			return result, fmt.Errorf("persist events: %w", err)
		}
		result.Events += len(events)
		for _, ev := range events {
			i.metrics.EventsEmitted.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
		}
	}

	i.metrics.RecordsIngested.Add(float64(result.Accepted))
	i.metrics.RecordsSkipped.Add(float64(result.Skipped))
	i.metrics.IngestBatchSize.Observe(float64(result.Accepted + result.Skipped))
	i.metrics.IngestDuration.Observe(clock.Since(start).Seconds())

	if result.Skipped > 0 {
		i.logger.Warn("envelope items skipped", "accepted", result.Accepted, "skipped", result.Skipped)
	}
	return result, nil
}
