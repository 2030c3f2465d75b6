package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// SegmentHour names one (segment, hour bucket) pair touched by ingestion.
type SegmentHour struct {
	SegmentID  string
	HourBucket time.Time
}

// TouchedSegmentHours lists the distinct (segment, hour) pairs with
// analyzable, geocoded records received at or after since. These are the
// rollups a materialization run needs to recompute.
func (s *Store) TouchedSegmentHours(ctx context.Context, since time.Time) ([]SegmentHour, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT segment_id,
strftime('%Y-%m-%dT%H:00:00Z', bucket_start)
FROM metric_aggregates
WHERE analyzable = 1 AND segment_id != '' AND received_at >= ?
ORDER BY 1, 2`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("touched segment hours: %w", err)
	}
	defer rows.Close()

	var out []SegmentHour
	for rows.Next() {
		var sh SegmentHour
		var hour string
		if err := rows.Scan(&sh.SegmentID, &hour); err != nil {
			return nil, fmt.Errorf("scan segment hour: %w", err)
		}
		sh.HourBucket = parseTime(hour)
		out = append(out, sh)
	}
	return out, rows.Err()
}

// RoughnessSample is one analyzable observation feeding an hourly rollup.
// Quality is nil when the device reported no confidence.
type RoughnessSample struct {
	Roughness float64
	Quality   *float64
}

// RoughnessSamples returns the analyzable roughness observations for one
// segment within one hour bucket.
func (s *Store) RoughnessSamples(ctx context.Context, segmentID string, hour time.Time) ([]RoughnessSample, error) {
	hour = hour.UTC().Truncate(time.Hour)
	rows, err := s.db.QueryContext(ctx, `SELECT road_roughness, confidence
FROM metric_aggregates
WHERE segment_id = ? AND analyzable = 1 AND road_roughness IS NOT NULL
AND bucket_start >= ? AND bucket_start < ?`,
		segmentID, formatTime(hour), formatTime(hour.Add(time.Hour)))
	if err != nil {
		return nil, fmt.Errorf("roughness samples: %w", err)
	}
	defer rows.Close()

	var out []RoughnessSample
	for rows.Next() {
		var sample RoughnessSample
		var quality sql.NullFloat64
		if err := rows.Scan(&sample.Roughness, &quality); err != nil {
			return nil, fmt.Errorf("scan roughness sample: %w", err)
		}
		sample.Quality = floatPtr(quality)
		out = append(out, sample)
	}
	return out, rows.Err()
}

// UpsertRollup writes one hourly rollup, replacing any previous
// materialization of the same (segment, hour).
func (s *Store) UpsertRollup(ctx context.Context, r domain.HourlyRollup) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO segment_hourly
(segment_key, hour_bucket, n_samples, avg_roughness, p50_roughness, p95_roughness,
avg_quality, score, score_confidence, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(segment_key, hour_bucket) DO UPDATE SET
n_samples = excluded.n_samples,
avg_roughness = excluded.avg_roughness,
p50_roughness = excluded.p50_roughness,
p95_roughness = excluded.p95_roughness,
avg_quality = excluded.avg_quality,
score = excluded.score,
score_confidence = excluded.score_confidence,
updated_at = excluded.updated_at`,
		r.SegmentKey, formatTime(r.HourBucket), r.SampleCount,
		r.AvgRoughness, r.P50Roughness, r.P95Roughness,
		r.AvgQuality, r.Score, r.Confidence, formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert rollup %s@%s: %w", r.SegmentKey, r.HourBucket, err)
	}
	return nil
}

// RollupFor fetches one materialized rollup, or ErrNotFound.
func (s *Store) RollupFor(ctx context.Context, segmentKey string, hour time.Time) (domain.HourlyRollup, error) {
	hour = hour.UTC().Truncate(time.Hour)
	var (
		r                 domain.HourlyRollup
		bucket, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT segment_key, hour_bucket, n_samples,
avg_roughness, p50_roughness, p95_roughness, avg_quality, score, score_confidence, updated_at
FROM segment_hourly WHERE segment_key = ? AND hour_bucket = ?`,
		segmentKey, formatTime(hour)).Scan(
		&r.SegmentKey, &bucket, &r.SampleCount,
		&r.AvgRoughness, &r.P50Roughness, &r.P95Roughness,
		&r.AvgQuality, &r.Score, &r.Confidence, &updatedAt)
	if err == sql.ErrNoRows {
		return r, fmt.Errorf("rollup %s@%s: %w", segmentKey, formatTime(hour), ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get rollup: %w", err)
	}
	r.HourBucket = parseTime(bucket)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// RollupsForSegment lists a segment's hourly rollups, newest hour first.
func (s *Store) RollupsForSegment(ctx context.Context, segmentKey string, limit int) ([]domain.HourlyRollup, error) {
	q := `SELECT segment_key, hour_bucket, n_samples, avg_roughness, p50_roughness,
p95_roughness, avg_quality, score, score_confidence, updated_at
FROM segment_hourly WHERE segment_key = ? ORDER BY hour_bucket DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, segmentKey)
	if err != nil {
		return nil, fmt.Errorf("rollups for segment: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyRollup
	for rows.Next() {
		var (
			r                 domain.HourlyRollup
			bucket, updatedAt string
		)
		err := rows.Scan(&r.SegmentKey, &bucket, &r.SampleCount,
			&r.AvgRoughness, &r.P50Roughness, &r.P95Roughness,
			&r.AvgQuality, &r.Score, &r.Confidence, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		r.HourBucket = parseTime(bucket)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
