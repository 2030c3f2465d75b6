package http

import (
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// API view types. Nullable signals stay pointers so absent and zero remain
// distinguishable on the wire; quality_note flattens to its stored string.

type recordJSON struct {
	ID            int64      `json:"id"`
	ReceivedAt    time.Time  `json:"received_at"`
	NodeID        string     `json:"node_id"`
	BucketStart   time.Time  `json:"bucket_start"`
	BucketSeconds int        `json:"bucket_seconds"`
	GridKey       string     `json:"grid_key"`
	Lat           *float64   `json:"lat"`
	Lon           *float64   `json:"lon"`
	SpeedMPS      *float64   `json:"speed_mps"`
	HeadingDeg    *float64   `json:"heading_deg"`
	RoadRoughness *float64   `json:"road_roughness"`
	ShockEvents   *int       `json:"shock_events"`
	Confidence    *float64   `json:"confidence"`
	SampleCount   int        `json:"sample_count"`
	Direction     string     `json:"direction"`
	SpeedBand     string     `json:"speed_band"`
	Moving        bool       `json:"moving"`
	Analyzable    bool       `json:"analyzable"`
	QualityNote   string     `json:"quality_note,omitempty"`
	RoadName      string     `json:"road_name,omitempty"`
	HwyRef        string     `json:"hwy_ref,omitempty"`
	Region        string     `json:"region,omitempty"`
	ShortLocation string     `json:"short_location,omitempty"`
	SegmentID     string     `json:"segment_id,omitempty"`
	GeocodedAt    *time.Time `json:"geocoded_at,omitempty"`
}

func recordsJSON(records []domain.AggregateRecord) []recordJSON {
	out := make([]recordJSON, len(records))
	for i, r := range records {
		out[i] = recordJSON{
			ID:            r.ID,
			ReceivedAt:    r.ReceivedAt,
			NodeID:        r.NodeID,
			BucketStart:   r.BucketStart,
			BucketSeconds: r.BucketSeconds,
			GridKey:       r.GridKey,
			Lat:           r.Lat,
			Lon:           r.Lon,
			SpeedMPS:      r.SpeedMPS,
			HeadingDeg:    r.HeadingDeg,
			RoadRoughness: r.RoadRoughness,
			ShockEvents:   r.ShockEvents,
			Confidence:    r.Confidence,
			SampleCount:   r.SampleCount,
			Direction:     r.Direction,
			SpeedBand:     r.SpeedBand,
			Moving:        r.Moving,
			Analyzable:    r.Analyzable,
			QualityNote:   r.QualityNote.String(),
			RoadName:      r.RoadName,
			HwyRef:        r.HwyRef,
			Region:        r.Region,
			ShortLocation: r.ShortLocation,
			SegmentID:     r.SegmentID,
			GeocodedAt:    r.GeocodedAt,
		}
	}
	return out
}

type eventJSON struct {
	ID          string    `json:"id"`
	AggregateID int64     `json:"aggregate_id"`
	SegmentID   string    `json:"segment_id,omitempty"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Score       *float64  `json:"score"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func eventsJSON(events []domain.RoadEvent) []eventJSON {
	out := make([]eventJSON, len(events))
	for i, ev := range events {
		out[i] = eventJSON{
			ID:          ev.ID,
			AggregateID: ev.AggregateID,
			SegmentID:   ev.SegmentID,
			Type:        string(ev.Type),
			Severity:    string(ev.Severity),
			Score:       ev.Score,
			Reason:      ev.Reason,
			Status:      string(ev.Status),
			CreatedAt:   ev.CreatedAt,
			UpdatedAt:   ev.UpdatedAt,
		}
	}
	return out
}

type segmentViewJSON struct {
	SegmentID   string   `json:"segment_id"`
	HwyRef      string   `json:"hwy_ref,omitempty"`
	RoadName    string   `json:"road_name,omitempty"`
	Region      string   `json:"region,omitempty"`
	County      string   `json:"county,omitempty"`
	City        string   `json:"city,omitempty"`
	CentroidLat *float64 `json:"centroid_lat"`
	CentroidLon *float64 `json:"centroid_lon"`
}

func segmentJSON(seg domain.Segment) segmentViewJSON {
	return segmentViewJSON{
		SegmentID:   seg.ID,
		HwyRef:      seg.HwyRef,
		RoadName:    seg.RoadName,
		Region:      seg.Region,
		County:      seg.County,
		City:        seg.City,
		CentroidLat: seg.CentroidLat,
		CentroidLon: seg.CentroidLon,
	}
}

func segmentsJSON(segments []domain.Segment) []segmentViewJSON {
	out := make([]segmentViewJSON, len(segments))
	for i, seg := range segments {
		out[i] = segmentJSON(seg)
	}
	return out
}

type scoreJSON struct {
	SegmentID      string    `json:"segment_id"`
	WindowDays     int       `json:"window_days"`
	RowsUsed       int       `json:"rows_used"`
	Score          float64   `json:"score"`
	RoughnessMean  float64   `json:"roughness_mean"`
	ShockP95       float64   `json:"shock_p95"`
	ConfidenceMean float64   `json:"confidence_mean"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func scoresJSON(scores []domain.SegmentScore) []scoreJSON {
	out := make([]scoreJSON, len(scores))
	for i, sc := range scores {
		out[i] = scoreJSON{
			SegmentID:      sc.SegmentID,
			WindowDays:     sc.WindowDays,
			RowsUsed:       sc.RowsUsed,
			Score:          sc.Score,
			RoughnessMean:  sc.RoughnessMean,
			ShockP95:       sc.ShockP95,
			ConfidenceMean: sc.ConfidenceMean,
			UpdatedAt:      sc.UpdatedAt,
		}
	}
	return out
}

type scoredSegmentJSON struct {
	scoreJSON
	HwyRef      string   `json:"hwy_ref,omitempty"`
	RoadName    string   `json:"road_name,omitempty"`
	Region      string   `json:"region,omitempty"`
	County      string   `json:"county,omitempty"`
	City        string   `json:"city,omitempty"`
	CentroidLat *float64 `json:"centroid_lat"`
	CentroidLon *float64 `json:"centroid_lon"`
}

func scoredJSON(segments []store.ScoredSegment) []scoredSegmentJSON {
	out := make([]scoredSegmentJSON, len(segments))
	for i, sc := range segments {
		out[i] = scoredSegmentJSON{
			scoreJSON: scoreJSON{
				SegmentID:      sc.SegmentID,
				WindowDays:     sc.WindowDays,
				RowsUsed:       sc.RowsUsed,
				Score:          sc.Score,
				RoughnessMean:  sc.RoughnessMean,
				ShockP95:       sc.ShockP95,
				ConfidenceMean: sc.ConfidenceMean,
				UpdatedAt:      sc.UpdatedAt,
			},
			HwyRef:      sc.HwyRef,
			RoadName:    sc.RoadName,
			Region:      sc.Region,
			County:      sc.County,
			City:        sc.City,
			CentroidLat: sc.CentroidLat,
			CentroidLon: sc.CentroidLon,
		}
	}
	return out
}

type rollupJSON struct {
	HourBucket   time.Time `json:"hour_bucket"`
	SampleCount  int       `json:"n_samples"`
	AvgRoughness float64   `json:"avg_roughness"`
	P50Roughness float64   `json:"p50_roughness"`
	P95Roughness float64   `json:"p95_roughness"`
	AvgQuality   float64   `json:"avg_quality"`
	Score        float64   `json:"score"`
	Confidence   float64   `json:"score_confidence"`
}

func rollupsJSON(rollups []domain.HourlyRollup) []rollupJSON {
	out := make([]rollupJSON, len(rollups))
	for i, r := range rollups {
		out[i] = rollupJSON{
			HourBucket:   r.HourBucket,
			SampleCount:  r.SampleCount,
			AvgRoughness: r.AvgRoughness,
			P50Roughness: r.P50Roughness,
			P95Roughness: r.P95Roughness,
			AvgQuality:   r.AvgQuality,
			Score:        r.Score,
			Confidence:   r.Confidence,
		}
	}
	return out
}
