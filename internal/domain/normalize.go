package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoWritableFields is returned when an entire payload maps onto zero
// canonical fields. Callers must reject the request rather than silently
// dropping it.
var ErrNoWritableFields = errors.New("no writable fields in payload")

// fieldAliases maps legacy client keys onto canonical field names before the
// allow-list intersection. Applied first so an old client's "speed" lands in
// speed_mps instead of being dropped.
var fieldAliases = map[string]string{
	"speed":     "speed_mps",
	"heading":   "heading_deg",
	"lat_deg":   "lat",
	"lon_deg":   "lon",
	"latitude":  "lat",
	"longitude": "lon",
	"lng":       "lon",
	"device_id": "node_id",
}

// Thresholds for the coordinate-corruption heuristics. Empirically tuned
// from corrupt rows observed in production; provisional business rules.
const (
	lonZeroEpsilon     = 1e-6
	latTinyMax         = 2.0
	lonSpeedRangeMax   = 80.0
	latConfMixupMax    = 1.2
	defaultBucketSecs  = 5
	defaultGridKey     = "seg:unknown"
	defaultNodeID      = "unknown"
	defaultCategorical = "unknown"
)

// fields collects every canonical value seen in one payload before defaults
// and sanity checks are applied. Pointers distinguish absent from zero.
type fields struct {
	receivedAt  *time.Time
	bucketStart *time.Time

	nodeID        *string
	gridKey       *string
	direction     *string
	speedBand     *string
	qualityNote   *string
	mountState    *string
	devicePosture *string
	shortLocation *string
	roadName      *string

	bucketSeconds  *int
	shockEvents    *int
	sampleCount    *int
	moving         *int
	analyzable     *int
	pointsEligible *int

	lat        *float64
	lon        *float64
	speedMPS   *float64
	headingDeg *float64
	roughness  *float64
	confidence *float64
	motionG    *float64
	motionRMS  *float64
}

// Normalize maps an arbitrary deserialized payload onto a canonical aggregate
// record: alias mapping, allow-list intersection, type coercion, sanity
// checks, and defaults. Unknown keys are dropped silently. Returns
// ErrNoWritableFields when nothing in the payload maps to a canonical field.
func Normalize(payload map[string]any) (*AggregateRecord, error) {
	var f fields
	mapped := 0
	for key, value := range payload {
		if canonical, ok := fieldAliases[key]; ok {
			key = canonical
		}
		if f.set(key, value) {
			mapped++
		}
	}
	if mapped == 0 {
		return nil, ErrNoWritableFields
	}
	return f.finalize(), nil
}

// set assigns a single canonical field. Returns false for unknown keys.
// Integer coercion failures substitute documented defaults (0 for
// counts/flags, 1 for the rest) instead of failing the record.
func (f *fields) set(key string, value any) bool {
	if value == nil {
		// A null value still counts as a writable field reference.
		return f.known(key)
	}

	switch key {
	case "received_at":
		f.receivedAt = toTime(value)
	case "bucket_start":
		f.bucketStart = toTime(value)
	case "node_id":
		f.nodeID = toString(value)
	case "grid_key":
		f.gridKey = toString(value)
	case "direction":
		f.direction = toString(value)
	case "speed_band":
		f.speedBand = toString(value)
	case "quality_note":
		f.qualityNote = toString(value)
	case "mount_state":
		f.mountState = toString(value)
	case "device_posture":
		f.devicePosture = toString(value)
	case "short_location":
		f.shortLocation = toString(value)
	case "road_name":
		f.roadName = toString(value)
	case "bucket_seconds":
		f.bucketSeconds = toIntOr(value, 1)
	case "shock_events":
		f.shockEvents = toIntOr(value, 0)
	case "sample_count":
		f.sampleCount = toIntOr(value, 1)
	case "moving":
		f.moving = toIntOr(value, 0)
	case "analyzable":
		f.analyzable = toIntOr(value, 1)
	case "points_eligible":
		f.pointsEligible = toIntOr(value, 0)
	case "lat":
		f.lat = toFloat(value)
	case "lon":
		f.lon = toFloat(value)
	case "speed_mps":
		f.speedMPS = toFloat(value)
	case "heading_deg":
		f.headingDeg = toFloat(value)
	case "road_roughness":
		f.roughness = toFloat(value)
	case "confidence":
		f.confidence = toFloat(value)
	case "motion_g":
		f.motionG = toFloat(value)
	case "motion_rms":
		f.motionRMS = toFloat(value)
	default:
		return false
	}
	return true
}

// known reports whether key names a canonical field without setting anything.
func (f *fields) known(key string) bool {
	switch key {
	case "received_at", "bucket_start", "node_id", "grid_key", "direction",
		"speed_band", "quality_note", "mount_state", "device_posture",
		"short_location", "road_name", "bucket_seconds", "shock_events",
		"sample_count", "moving", "analyzable", "points_eligible",
		"lat", "lon", "speed_mps", "heading_deg", "road_roughness",
		"confidence", "motion_g", "motion_rms":
		return true
	}
	return false
}

// finalize applies sanity checks and field defaults, producing the canonical
// record. Anomalies are corrected in place and tagged, never fatal.
func (f *fields) finalize() *AggregateRecord {
	rec := &AggregateRecord{
		QualityNote:   ParseAnomalyTags(deref(f.qualityNote)),
		Lat:           f.lat,
		Lon:           f.lon,
		SpeedMPS:      f.speedMPS,
		HeadingDeg:    f.headingDeg,
		RoadRoughness: f.roughness,
		Confidence:    f.confidence,
		MotionG:       f.motionG,
		MotionRMS:     f.motionRMS,
		ShockEvents:   f.shockEvents,
		MountState:    deref(f.mountState),
		DevicePosture: deref(f.devicePosture),
		ShortLocation: deref(f.shortLocation),
		RoadName:      deref(f.roadName),
	}

	rec.Analyzable = f.analyzable == nil || *f.analyzable != 0
	rec.PointsEligible = f.pointsEligible != nil && *f.pointsEligible != 0
	rec.Moving = f.moving != nil && *f.moving != 0

	f.sanitizeCoordinates(rec)
	f.sanitizeMotion(rec)

	// Defaults apply only to absent or empty fields.
	if f.receivedAt != nil && !f.receivedAt.IsZero() {
		rec.ReceivedAt = *f.receivedAt
	} else {
		rec.ReceivedAt = clock.Now().UTC()
	}
	if f.bucketStart != nil && !f.bucketStart.IsZero() {
		rec.BucketStart = *f.bucketStart
	} else {
		rec.BucketStart = rec.ReceivedAt
	}
	rec.NodeID = stringOr(f.nodeID, defaultNodeID)
	rec.GridKey = stringOr(f.gridKey, defaultGridKey)
	rec.Direction = stringOr(f.direction, defaultCategorical)
	rec.SpeedBand = stringOr(f.speedBand, defaultCategorical)
	if f.bucketSeconds != nil && *f.bucketSeconds != 0 {
		rec.BucketSeconds = *f.bucketSeconds
	} else {
		rec.BucketSeconds = defaultBucketSecs
	}
	if f.sampleCount != nil {
		rec.SampleCount = *f.sampleCount
	} else {
		rec.SampleCount = 1
	}
	// Analyzable records always carry at least one sample.
	if rec.Analyzable && rec.SampleCount < 1 {
		rec.SampleCount = 1
	}
	return rec
}

// sanitizeCoordinates validates lat/lon ranges and applies the corruption
// heuristics. Out-of-range values are nulled and tagged, never dropped.
func (f *fields) sanitizeCoordinates(rec *AggregateRecord) {
	if rec.Lat != nil && math.Abs(*rec.Lat) > 90 {
		rec.Lat = nil
		rec.QualityNote = rec.QualityNote.Append(TagLatOutOfRange)
	}
	if rec.Lon != nil && math.Abs(*rec.Lon) > 180 {
		rec.Lon = nil
		rec.QualityNote = rec.QualityNote.Append(TagLonOutOfRange)
	}
	if rec.Lat == nil || rec.Lon == nil {
		return
	}
	lat, lon := *rec.Lat, *rec.Lon

	// Confidence shoved into lat/lon: the most specific pattern, checked
	// first so the null-both rule below does not destroy the evidence.
	// Values are retained for audit; the record just leaves aggregation.
	if conf := rec.Confidence; conf != nil &&
		lat >= 0 && lat <= latConfMixupMax && lon == 0 &&
		*conf >= 0 && *conf <= 1 {
		rec.Analyzable = false
		rec.QualityNote = rec.QualityNote.Append(TagLatLonSuspectedFromConf)
		return
	}

	// Field-order corruption: longitude pinned at zero with a tiny latitude.
	if math.Abs(lon) < lonZeroEpsilon && math.Abs(lat) > 0 && math.Abs(lat) < latTinyMax {
		rec.Lat = nil
		rec.Lon = nil
		rec.QualityNote = rec.QualityNote.Append(TagLonZeroLatTiny)
		return
	}

	// Longitude in plausible-speed range with no speed field: advisory only.
	if math.Abs(lon) <= lonSpeedRangeMax && math.Abs(lat) > 0 && math.Abs(lat) < latTinyMax &&
		rec.SpeedMPS == nil {
		rec.QualityNote = rec.QualityNote.Append(TagLonLooksLikeSpeed)
	}
}

// sanitizeMotion nulls physically impossible speed/heading values.
func (f *fields) sanitizeMotion(rec *AggregateRecord) {
	if rec.SpeedMPS != nil && *rec.SpeedMPS < 0 {
		rec.SpeedMPS = nil
	}
	if rec.HeadingDeg != nil && (*rec.HeadingDeg < 0 || *rec.HeadingDeg >= 360) {
		rec.HeadingDeg = nil
	}
}

// EnvelopeResult reports the outcome of normalizing a batch payload.
type EnvelopeResult struct {
	Records  []*AggregateRecord
	Accepted int
	Skipped  int
}

// envelopeListKeys are the accepted names for a batch item list, in
// precedence order.
var envelopeListKeys = []string{"rows", "aggregates", "data"}

// NormalizeEnvelope accepts either a single payload object or an envelope
// carrying a list of items under "rows"/"aggregates"/"data" plus shared
// defaults at the top level. Each item inherits unset fields from the
// envelope and is normalized independently; a bad item is skipped and
// counted, never aborting the batch. A single object that maps to nothing
// returns ErrNoWritableFields.
func NormalizeEnvelope(payload map[string]any) (EnvelopeResult, error) {
	items, listKey, ok := envelopeItems(payload)
	if !ok {
		rec, err := Normalize(payload)
		if err != nil {
			return EnvelopeResult{}, err
		}
		return EnvelopeResult{Records: []*AggregateRecord{rec}, Accepted: 1}, nil
	}

	shared := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != listKey {
			shared[k] = v
		}
	}

	var res EnvelopeResult
	for _, item := range items {
		obj, isMap := item.(map[string]any)
		if !isMap {
			res.Skipped++
			continue
		}
		merged := make(map[string]any, len(shared)+len(obj))
		for k, v := range shared {
			merged[k] = v
		}
		for k, v := range obj {
			merged[k] = v
		}
		rec, err := Normalize(merged)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
		res.Accepted++
	}
	return res, nil
}

func envelopeItems(payload map[string]any) ([]any, string, bool) {
	for _, key := range envelopeListKeys {
		if list, ok := payload[key].([]any); ok {
			return list, key, true
		}
	}
	return nil, "", false
}

// Coercion helpers. JSON numbers arrive as float64; older clients send
// numbers as strings.

func toFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case float32:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// toIntOr coerces a declared-integer field, substituting fallback when the
// value is present but unparseable.
func toIntOr(v any, fallback int) *int {
	switch x := v.(type) {
	case int:
		return &x
	case int64:
		n := int(x)
		return &n
	case float64:
		n := int(x)
		return &n
	case bool:
		n := 0
		if x {
			n = 1
		}
		return &n
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return &n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n := int(f)
			return &n
		}
	}
	return &fallback
}

func toString(v any) *string {
	switch x := v.(type) {
	case string:
		return &x
	case float64, int, int64, bool:
		s := fmt.Sprint(x)
		return &s
	}
	return nil
}

func toTime(v any) *time.Time {
	switch x := v.(type) {
	case time.Time:
		t := x.UTC()
		return &t
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	case float64:
		t := time.Unix(int64(x), 0).UTC()
		return &t
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringOr(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return *s
}
