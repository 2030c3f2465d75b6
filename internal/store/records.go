package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

const recordColumns = `id, received_at, node_id, bucket_start, bucket_seconds, grid_key,
lat, lon, speed_mps, heading_deg, road_roughness, shock_events, confidence, sample_count,
direction, speed_band, moving, analyzable, points_eligible, quality_note,
mount_state, device_posture, motion_g, motion_rms,
road_name, hwy_ref, region, county, city, short_location, segment_id, geocode_src, geocoded_at`

// InsertRecord persists one canonical record and returns its row id.
func (s *Store) InsertRecord(ctx context.Context, rec *domain.AggregateRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO metric_aggregates (
received_at, node_id, bucket_start, bucket_seconds, grid_key,
lat, lon, speed_mps, heading_deg, road_roughness, shock_events, confidence, sample_count,
direction, speed_band, moving, analyzable, points_eligible, quality_note,
mount_state, device_posture, motion_g, motion_rms,
road_name, hwy_ref, region, county, city, short_location, segment_id, geocode_src, geocoded_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		formatTime(rec.ReceivedAt), rec.NodeID, formatTime(rec.BucketStart), rec.BucketSeconds, rec.GridKey,
		nullFloat(rec.Lat), nullFloat(rec.Lon), nullFloat(rec.SpeedMPS), nullFloat(rec.HeadingDeg),
		nullFloat(rec.RoadRoughness), nullInt(rec.ShockEvents), nullFloat(rec.Confidence), rec.SampleCount,
		rec.Direction, rec.SpeedBand, boolToInt(rec.Moving), boolToInt(rec.Analyzable), boolToInt(rec.PointsEligible),
		rec.QualityNote.String(),
		rec.MountState, rec.DevicePosture, nullFloat(rec.MotionG), nullFloat(rec.MotionRMS),
		rec.RoadName, rec.HwyRef, rec.Region, rec.County, rec.City,
		rec.ShortLocation, rec.SegmentID, rec.GeocodeSrc, nullTime(rec.GeocodedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

func scanRecord(row interface{ Scan(...any) error }) (domain.AggregateRecord, error) {
	var (
		rec                                  domain.AggregateRecord
		receivedAt, bucketStart, qualityNote string
		lat, lon, speed, heading, rough      sql.NullFloat64
		motionG, motionRMS, confidence       sql.NullFloat64
		shocks                               sql.NullInt64
		moving, analyzable, pointsEligible   int
		geocodedAt                           sql.NullString
	)
	err := row.Scan(
		&rec.ID, &receivedAt, &rec.NodeID, &bucketStart, &rec.BucketSeconds, &rec.GridKey,
		&lat, &lon, &speed, &heading, &rough, &shocks, &confidence, &rec.SampleCount,
		&rec.Direction, &rec.SpeedBand, &moving, &analyzable, &pointsEligible, &qualityNote,
		&rec.MountState, &rec.DevicePosture, &motionG, &motionRMS,
		&rec.RoadName, &rec.HwyRef, &rec.Region, &rec.County, &rec.City,
		&rec.ShortLocation, &rec.SegmentID, &rec.GeocodeSrc, &geocodedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.ReceivedAt = parseTime(receivedAt)
	rec.BucketStart = parseTime(bucketStart)
	rec.Lat = floatPtr(lat)
	rec.Lon = floatPtr(lon)
	rec.SpeedMPS = floatPtr(speed)
	rec.HeadingDeg = floatPtr(heading)
	rec.RoadRoughness = floatPtr(rough)
	rec.ShockEvents = intPtr(shocks)
	rec.Confidence = floatPtr(confidence)
	rec.MotionG = floatPtr(motionG)
	rec.MotionRMS = floatPtr(motionRMS)
	rec.Moving = moving != 0
	rec.Analyzable = analyzable != 0
	rec.PointsEligible = pointsEligible != 0
	rec.QualityNote = domain.ParseAnomalyTags(qualityNote)
	rec.GeocodedAt = timePtr(geocodedAt)
	return rec, nil
}

// RecordFilter narrows record listings. Zero values mean "no constraint";
// pointer fields distinguish unset from explicit false/zero.
type RecordFilter struct {
	NodeID     string
	GridKey    string
	SegmentID  string
	Direction  string
	SpeedBand  string
	Analyzable *bool
	HasCoords  *bool
	MinConf    *float64
	MaxConf    *float64
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (f RecordFilter) where() (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, vals ...any) {
		clauses = append(clauses, clause)
		args = append(args, vals...)
	}
	if f.NodeID != "" {
		add("node_id = ?", f.NodeID)
	}
	if f.GridKey != "" {
		add("grid_key = ?", f.GridKey)
	}
	if f.SegmentID != "" {
		add("segment_id = ?", f.SegmentID)
	}
	if f.Direction != "" {
		add("direction = ?", f.Direction)
	}
	if f.SpeedBand != "" {
		add("speed_band = ?", f.SpeedBand)
	}
	if f.Analyzable != nil {
		add("analyzable = ?", boolToInt(*f.Analyzable))
	}
	if f.HasCoords != nil {
		if *f.HasCoords {
			add("lat IS NOT NULL AND lon IS NOT NULL")
		} else {
			add("(lat IS NULL OR lon IS NULL)")
		}
	}
	if f.MinConf != nil {
		add("confidence >= ?", *f.MinConf)
	}
	if f.MaxConf != nil {
		add("confidence <= ?", *f.MaxConf)
	}
	if f.From != nil {
		add("bucket_start >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("bucket_start < ?", formatTime(*f.To))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListRecords returns records matching the filter, newest first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]domain.AggregateRecord, error) {
	where, args := f.where()
	q := "SELECT " + recordColumns + " FROM metric_aggregates" + where + " ORDER BY id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.AggregateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of records matching the filter.
func (s *Store) CountRecords(ctx context.Context, f RecordFilter) (int, error) {
	where, args := f.where()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metric_aggregates"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// GetRecord fetches a single record by row id, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, id int64) (*domain.AggregateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM metric_aggregates WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// SeriesPoint is one time-bucketed point of a metric series.
type SeriesPoint struct {
	BucketStart  time.Time `json:"bucket_start"`
	AvgRoughness *float64  `json:"avg_roughness"`
	AvgSpeed     *float64  `json:"avg_speed"`
	ShockSum     int       `json:"shock_sum"`
	SampleCount  int       `json:"sample_count"`
}

// Series aggregates matching analyzable records per bucket_start, oldest
// first, capped at maxPoints most recent buckets.
func (s *Store) Series(ctx context.Context, f RecordFilter, maxPoints int) ([]SeriesPoint, error) {
	analyzable := true
	f.Analyzable = &analyzable
	where, args := f.where()
	q := `SELECT bucket_start, AVG(road_roughness), AVG(speed_mps),
COALESCE(SUM(shock_events), 0), COALESCE(SUM(sample_count), 0)
FROM metric_aggregates` + where + ` GROUP BY bucket_start ORDER BY bucket_start DESC`
	if maxPoints > 0 {
		q += fmt.Sprintf(" LIMIT %d", maxPoints)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var (
			p          SeriesPoint
			bucket     string
			avgR, avgS sql.NullFloat64
		)
		if err := rows.Scan(&bucket, &avgR, &avgS, &p.ShockSum, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("scan series point: %w", err)
		}
		p.BucketStart = parseTime(bucket)
		p.AvgRoughness = floatPtr(avgR)
		p.AvgSpeed = floatPtr(avgS)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// UngeocodedRecords returns up to limit records that carry usable coordinates
// but have never been geocoded, oldest first so the backlog drains in order.
func (s *Store) UngeocodedRecords(ctx context.Context, limit int) ([]domain.AggregateRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+` FROM metric_aggregates
WHERE lat IS NOT NULL AND lon IS NOT NULL AND geocoded_at IS NULL
ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ungeocoded records: %w", err)
	}
	defer rows.Close()

	var out []domain.AggregateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ApplyGeocode stamps the resolved geography onto a record. An empty result
// still stamps geocoded_at so the record is not retried forever.
func (s *Store) ApplyGeocode(ctx context.Context, id int64, g domain.GeocodeResult, segmentID, src string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE metric_aggregates SET
road_name = ?, hwy_ref = ?, region = ?, county = ?, city = ?,
short_location = ?, segment_id = ?, geocode_src = ?, geocoded_at = ?
WHERE id = ?`,
		g.RoadName, g.HwyRef, g.Region, g.County, g.City,
		g.ShortLocation(), segmentID, src, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("apply geocode: %w", err)
	}
	return nil
}
