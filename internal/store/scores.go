package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// SegmentWindowStats is the per-segment aggregate over a scoring window,
// computed from analyzable records with known roughness.
type SegmentWindowStats struct {
	SegmentID      string
	RowsUsed       int
	RoughnessMean  float64
	ConfidenceMean float64
}

// WindowSegmentStats groups analyzable, segment-resolved records geocoded
// inside the window by segment. Every such row counts toward the minRows
// floor; the roughness and confidence means skip null values, with full
// confidence assumed when no row reports one. Segments with fewer than
// minRows observations are left out entirely rather than scored on thin
// evidence.
func (s *Store) WindowSegmentStats(ctx context.Context, since time.Time, minRows int) ([]SegmentWindowStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT segment_id, COUNT(*),
AVG(CASE WHEN road_roughness IS NOT NULL THEN road_roughness END),
AVG(CASE WHEN confidence IS NOT NULL THEN confidence END)
FROM metric_aggregates
WHERE analyzable = 1 AND segment_id != ''
AND geocoded_at IS NOT NULL AND geocoded_at >= ?
GROUP BY segment_id
HAVING COUNT(*) >= ?`,
		formatTime(since), minRows)
	if err != nil {
		return nil, fmt.Errorf("window segment stats: %w", err)
	}
	defer rows.Close()

	var out []SegmentWindowStats
	for rows.Next() {
		var st SegmentWindowStats
		var rough, conf sql.NullFloat64
		if err := rows.Scan(&st.SegmentID, &st.RowsUsed, &rough, &conf); err != nil {
			return nil, fmt.Errorf("scan window stats: %w", err)
		}
		if rough.Valid {
			st.RoughnessMean = rough.Float64
		}
		st.ConfidenceMean = 1.0
		if conf.Valid {
			st.ConfidenceMean = conf.Float64
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ShockValues returns the per-record shock counts for one segment within the
// scoring window, for percentile computation in process.
func (s *Store) ShockValues(ctx context.Context, segmentID string, since time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shock_events FROM metric_aggregates
WHERE analyzable = 1 AND segment_id = ? AND shock_events IS NOT NULL
AND geocoded_at IS NOT NULL AND geocoded_at >= ?`,
		segmentID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("shock values: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan shock value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertScore writes one window score, replacing any previous score for the
// same (segment, window length).
func (s *Store) UpsertScore(ctx context.Context, sc domain.SegmentScore) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO road_scores
(segment_id, window_days, rows_used, score, roughness_mean, shock_p95, confidence_mean, updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(segment_id, window_days) DO UPDATE SET
rows_used = excluded.rows_used,
score = excluded.score,
roughness_mean = excluded.roughness_mean,
shock_p95 = excluded.shock_p95,
confidence_mean = excluded.confidence_mean,
updated_at = excluded.updated_at`,
		sc.SegmentID, sc.WindowDays, sc.RowsUsed, sc.Score,
		sc.RoughnessMean, sc.ShockP95, sc.ConfidenceMean, formatTime(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert score %s/%dd: %w", sc.SegmentID, sc.WindowDays, err)
	}
	return nil
}

// ScoredSegment joins a window score with its segment identity for listings.
type ScoredSegment struct {
	domain.SegmentScore
	HwyRef      string
	RoadName    string
	Region      string
	County      string
	City        string
	CentroidLat *float64
	CentroidLon *float64
}

const scoredSegmentQuery = `SELECT sc.segment_id, sc.window_days, sc.rows_used, sc.score,
sc.roughness_mean, sc.shock_p95, sc.confidence_mean, sc.updated_at,
COALESCE(seg.hwy_ref, ''), COALESCE(seg.road_name, ''), COALESCE(seg.region, ''),
COALESCE(seg.county, ''), COALESCE(seg.city, ''), seg.centroid_lat, seg.centroid_lon
FROM road_scores sc
LEFT JOIN road_segments seg ON seg.segment_id = sc.segment_id
WHERE sc.window_days = ?`

func scanScoredSegment(row interface{ Scan(...any) error }) (ScoredSegment, error) {
	var (
		out       ScoredSegment
		updatedAt string
		lat, lon  sql.NullFloat64
	)
	err := row.Scan(&out.SegmentID, &out.WindowDays, &out.RowsUsed, &out.Score,
		&out.RoughnessMean, &out.ShockP95, &out.ConfidenceMean, &updatedAt,
		&out.HwyRef, &out.RoadName, &out.Region, &out.County, &out.City, &lat, &lon)
	if err != nil {
		return out, err
	}
	out.UpdatedAt = parseTime(updatedAt)
	out.CentroidLat = floatPtr(lat)
	out.CentroidLon = floatPtr(lon)
	return out, nil
}

// TopSegments lists the roughest segments for a window, highest score first,
// optionally restricted to one administrative region.
func (s *Store) TopSegments(ctx context.Context, windowDays int, region string, limit int) ([]ScoredSegment, error) {
	q := scoredSegmentQuery
	args := []any{windowDays}
	if region != "" {
		q += " AND seg.region = ?"
		args = append(args, region)
	}
	q += " ORDER BY sc.score DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("top segments: %w", err)
	}
	defer rows.Close()

	var out []ScoredSegment
	for rows.Next() {
		sc, err := scanScoredSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scored segment: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SegmentScores lists all window scores stored for one segment.
func (s *Store) SegmentScores(ctx context.Context, segmentID string) ([]domain.SegmentScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT segment_id, window_days, rows_used, score,
roughness_mean, shock_p95, confidence_mean, updated_at
FROM road_scores WHERE segment_id = ? ORDER BY window_days ASC`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("segment scores: %w", err)
	}
	defer rows.Close()

	var out []domain.SegmentScore
	for rows.Next() {
		var sc domain.SegmentScore
		var updatedAt string
		err := rows.Scan(&sc.SegmentID, &sc.WindowDays, &sc.RowsUsed, &sc.Score,
			&sc.RoughnessMean, &sc.ShockP95, &sc.ConfidenceMean, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan segment score: %w", err)
		}
		sc.UpdatedAt = parseTime(updatedAt)
		out = append(out, sc)
	}
	return out, rows.Err()
}
