package domain

import (
	"strings"
	"time"
)

// Quality-note tags appended by the normalizer's sanity checks.
const (
	TagLatOutOfRange           = "sanity:lat_out_of_range"
	TagLonOutOfRange           = "sanity:lon_out_of_range"
	TagLonZeroLatTiny          = "sanity:lon_zero_lat_tiny"
	TagLonLooksLikeSpeed       = "sanity:lon_looks_like_speed"
	TagLatLonSuspectedFromConf = "sanity:lat_lon_suspected_from_conf"
)

// sanityTagPrefix marks tags produced by automated sanity checks, as opposed
// to free-text notes entered by an operator.
const sanityTagPrefix = "sanity:"

// AnomalyTags is the typed in-process form of the quality_note column.
// At the storage boundary it serializes to a pipe-delimited string.
type AnomalyTags []string

// ParseAnomalyTags splits a stored quality_note string back into tags.
func ParseAnomalyTags(s string) AnomalyTags {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tags AnomalyTags
	for _, part := range strings.Split(s, "|") {
		if p := strings.TrimSpace(part); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// Append adds a tag unless it is already present, keeping repeated
// normalization of the same anomaly idempotent.
func (t AnomalyTags) Append(tag string) AnomalyTags {
	for _, existing := range t {
		if existing == tag {
			return t
		}
	}
	return append(t, tag)
}

// Contains reports whether the exact tag is present.
func (t AnomalyTags) Contains(tag string) bool {
	for _, existing := range t {
		if existing == tag {
			return true
		}
	}
	return false
}

// IsSanityTag reports whether tag was produced by an automated sanity check.
func IsSanityTag(tag string) bool {
	return strings.HasPrefix(tag, sanityTagPrefix)
}

// HasSanityTag reports whether any automated sanity-check tag is present.
func (t AnomalyTags) HasSanityTag() bool {
	for _, tag := range t {
		if IsSanityTag(tag) {
			return true
		}
	}
	return false
}

func (t AnomalyTags) String() string {
	return strings.Join(t, "|")
}

// AggregateRecord is one normalized observation bucket from one device,
// the canonical form every payload is mapped onto before storage.
// Pointer fields are nullable: a missing signal is distinct from zero.
type AggregateRecord struct {
	ID            int64
	ReceivedAt    time.Time
	NodeID        string
	BucketStart   time.Time
	BucketSeconds int
	GridKey       string

	Lat        *float64
	Lon        *float64
	SpeedMPS   *float64
	HeadingDeg *float64

	RoadRoughness *float64
	ShockEvents   *int
	Confidence    *float64
	SampleCount   int

	Direction      string
	SpeedBand      string
	Moving         bool
	Analyzable     bool
	PointsEligible bool

	QualityNote   AnomalyTags
	MountState    string
	DevicePosture string
	MotionG       *float64
	MotionRMS     *float64

	// Geography, resolved asynchronously by the geocode job.
	RoadName      string
	HwyRef        string
	Region        string
	County        string
	City          string
	ShortLocation string
	SegmentID     string
	GeocodeSrc    string
	GeocodedAt    *time.Time
}

// EventType classifies a derived road event.
type EventType string

const (
	EventRoughSurface   EventType = "rough_surface"
	EventShockCluster   EventType = "shock_cluster"
	EventLowConfidence  EventType = "low_confidence"
	EventTelemetryIssue EventType = "telemetry_issue"
)

// Severity ranks a road event.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

// EventStatus is the externally managed lifecycle of a road event.
type EventStatus string

const (
	StatusOpen         EventStatus = "open"
	StatusAcknowledged EventStatus = "acknowledged"
	StatusClosed       EventStatus = "closed"
)

// ValidStatusTransition reports whether an event may move from one status to
// another. Events only move forward: open → acknowledged → closed, with
// direct closing allowed.
func ValidStatusTransition(from, to EventStatus) bool {
	switch from {
	case StatusOpen:
		return to == StatusAcknowledged || to == StatusClosed
	case StatusAcknowledged:
		return to == StatusClosed
	default:
		return false
	}
}

// RoadEvent is a discrete finding derived from a single canonical record.
// Immutable once created except for its externally managed status.
type RoadEvent struct {
	ID          string
	AggregateID int64
	SegmentID   string
	Type        EventType
	Severity    Severity
	Score       *float64 // trigger value, nil for rule hits without one
	Reason      string
	Status      EventStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Segment is a stable logical grouping of telemetry by road identity.
type Segment struct {
	ID          string
	HwyRef      string
	RoadName    string
	Region      string
	County      string
	City        string
	CentroidLat *float64
	CentroidLon *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HourlyRollup is the pre-aggregated statistical summary for one segment and
// one hour bucket. Recomputed as a whole on every materialization; never
// incrementally patched.
type HourlyRollup struct {
	SegmentKey   string
	HourBucket   time.Time
	SampleCount  int
	AvgRoughness float64
	P50Roughness float64
	P95Roughness float64
	AvgQuality   float64
	Score        float64
	Confidence   float64
	UpdatedAt    time.Time
}

// SegmentScore is a rolling-window smoothness score for one segment.
// Higher means rougher. Fully derivable from canonical records.
type SegmentScore struct {
	SegmentID      string
	WindowDays     int
	RowsUsed       int
	Score          float64
	RoughnessMean  float64
	ShockP95       float64
	ConfidenceMean float64
	UpdatedAt      time.Time
}
