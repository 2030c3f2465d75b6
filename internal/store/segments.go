package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// UpsertSegment registers or refreshes a segment's identity attributes.
// The centroid is first-fix-wins: once set it is never overwritten, so the
// segment does not drift as more telemetry arrives.
func (s *Store) UpsertSegment(ctx context.Context, seg domain.Segment, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO road_segments
(segment_id, hwy_ref, road_name, region, county, city, centroid_lat, centroid_lon, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(segment_id) DO UPDATE SET
hwy_ref = excluded.hwy_ref,
road_name = excluded.road_name,
region = excluded.region,
county = excluded.county,
city = excluded.city,
centroid_lat = COALESCE(road_segments.centroid_lat, excluded.centroid_lat),
centroid_lon = COALESCE(road_segments.centroid_lon, excluded.centroid_lon),
updated_at = excluded.updated_at`,
		seg.ID, seg.HwyRef, seg.RoadName, seg.Region, seg.County, seg.City,
		nullFloat(seg.CentroidLat), nullFloat(seg.CentroidLon),
		formatTime(at), formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert segment %s: %w", seg.ID, err)
	}
	return nil
}

const segmentColumns = `segment_id, hwy_ref, road_name, region, county, city,
centroid_lat, centroid_lon, created_at, updated_at`

func scanSegment(row interface{ Scan(...any) error }) (domain.Segment, error) {
	var (
		seg                  domain.Segment
		lat, lon             sql.NullFloat64
		createdAt, updatedAt string
	)
	err := row.Scan(&seg.ID, &seg.HwyRef, &seg.RoadName, &seg.Region, &seg.County, &seg.City,
		&lat, &lon, &createdAt, &updatedAt)
	if err != nil {
		return seg, err
	}
	seg.CentroidLat = floatPtr(lat)
	seg.CentroidLon = floatPtr(lon)
	seg.CreatedAt = parseTime(createdAt)
	seg.UpdatedAt = parseTime(updatedAt)
	return seg, nil
}

// GetSegment returns a segment by id, or ErrNotFound.
func (s *Store) GetSegment(ctx context.Context, id string) (domain.Segment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+segmentColumns+" FROM road_segments WHERE segment_id = ?", id)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return seg, fmt.Errorf("segment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return seg, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// SegmentsNear returns up to limit segments with a known centroid, nearest
// first by squared equirectangular distance. Good enough at road scale;
// not a substitute for proper geodesics over long ranges.
func (s *Store) SegmentsNear(ctx context.Context, lat, lon float64, limit int) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+segmentColumns+` FROM road_segments
WHERE centroid_lat IS NOT NULL AND centroid_lon IS NOT NULL
ORDER BY (centroid_lat - ?) * (centroid_lat - ?) + (centroid_lon - ?) * (centroid_lon - ?) ASC
LIMIT ?`, lat, lat, lon, lon, limit)
	if err != nil {
		return nil, fmt.Errorf("segments near: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
