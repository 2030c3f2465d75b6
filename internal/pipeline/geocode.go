package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// GeocodeJob drains the backlog of records with coordinates but no
// geography, resolving each through the (cached) geocoder and binding it to
// a road segment.
type GeocodeJob struct {
	store     *store.Store
	geocoder  domain.Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// NewGeocodeJob creates the geocode enrichment job.
func NewGeocodeJob(st *store.Store, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *GeocodeJob {
	return &GeocodeJob{
		store:     st,
		geocoder:  geocoder,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// GeocodeStats summarizes one enrichment run. Touched lists the
// (segment, hour) pairs whose rollups are now stale.
type GeocodeStats struct {
	Processed int                 `json:"processed"`
	Resolved  int                 `json:"resolved"`
	Empty     int                 `json:"empty"`
	Failed    int                 `json:"failed"`
	Touched   []store.SegmentHour `json:"-"`
}

// Run processes up to one batch of ungeocoded records. A failed lookup
// leaves its record in the backlog for the next run; everything else is
// stamped so it is never retried.
func (j *GeocodeJob) Run(ctx context.Context) (GeocodeStats, error) {
	start := clock.Now()
	defer func() {
		j.metrics.JobDuration.WithLabelValues("geocode").Observe(clock.Since(start).Seconds())
	}()

	records, err := j.store.UngeocodedRecords(ctx, j.batchSize)
	if err != nil {
		return GeocodeStats{}, err
	}

	var stats GeocodeStats
	touched := make(map[store.SegmentHour]struct{})

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Processed++

		result, err := j.geocoder.ReverseGeocode(ctx, *rec.Lat, *rec.Lon)
		if err != nil {
			stats.Failed++
			j.metrics.GeocodeRequests.WithLabelValues("error").Inc()
			j.logger.Warn("reverse geocode failed", "record_id", rec.ID, "error", err)
			continue
		}

		segmentID := domain.SegmentID(result.HwyRef, result.RoadName, result.Region)
		if result.Empty() {
			stats.Empty++
			j.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		} else {
			stats.Resolved++
			j.metrics.GeocodeRequests.WithLabelValues("success").Inc()

			seg := domain.Segment{
				ID:          segmentID,
				HwyRef:      result.HwyRef,
				RoadName:    result.RoadName,
				Region:      result.Region,
				County:      result.County,
				City:        result.City,
				CentroidLat: rec.Lat,
				CentroidLon: rec.Lon,
			}
			if err := j.store.UpsertSegment(ctx, seg, clock.Now().UTC()); err != nil {
				return stats, err
			}
		}

		if err := j.store.ApplyGeocode(ctx, rec.ID, result, segmentID, "nominatim", clock.Now().UTC()); err != nil {
			return stats, err
		}
		if rec.Analyzable {
			hour := rec.BucketStart.UTC().Truncate(time.Hour)
			touched[store.SegmentHour{SegmentID: segmentID, HourBucket: hour}] = struct{}{}
		}
	}

	for sh := range touched {
		stats.Touched = append(stats.Touched, sh)
	}
	j.logger.Info("geocode run complete",
		"processed", stats.Processed, "resolved", stats.Resolved,
		"empty", stats.Empty, "failed", stats.Failed)
	return stats, nil
}
