package domain

import "github.com/google/uuid"

// Static analyzer thresholds. Fixed by design: rules must be auditable
// against historical events without chasing configuration history.
const (
	roughnessMajor    = 0.55
	roughnessModerate = 0.35
	shocksMajor       = 6
	shocksModerate    = 3
	confidenceFloor   = 0.30
)

// Analyze applies the static rule set to one canonical record and returns
// the derived road events in rule-evaluation order (stable for a fixed
// input). Rules are independent and non-exclusive; a missing signal skips
// its rule rather than being treated as zero. The caller is responsible for
// persisting each record's events exactly once.
func Analyze(rec *AggregateRecord) []RoadEvent {
	var events []RoadEvent

	if r := rec.RoadRoughness; r != nil {
		switch {
		case *r >= roughnessMajor:
			events = append(events, newEvent(rec, EventRoughSurface, SeverityMajor, r, "roughness >= 0.55"))
		case *r >= roughnessModerate:
			events = append(events, newEvent(rec, EventRoughSurface, SeverityModerate, r, "roughness >= 0.35"))
		}
	}

	if s := rec.ShockEvents; s != nil {
		score := float64(*s)
		switch {
		case *s >= shocksMajor:
			events = append(events, newEvent(rec, EventShockCluster, SeverityMajor, &score, "shock_events >= 6"))
		case *s >= shocksModerate:
			events = append(events, newEvent(rec, EventShockCluster, SeverityModerate, &score, "shock_events >= 3"))
		}
	}

	if c := rec.Confidence; c != nil && *c < confidenceFloor {
		events = append(events, newEvent(rec, EventLowConfidence, SeverityMinor, c, "confidence < 0.30"))
	}

	if rec.QualityNote.HasSanityTag() {
		events = append(events, newEvent(rec, EventTelemetryIssue, SeverityMinor, nil, "quality_note indicates telemetry anomaly"))
	}

	return events
}

func newEvent(rec *AggregateRecord, t EventType, sev Severity, score *float64, reason string) RoadEvent {
	now := clock.Now().UTC()
	var scoreCopy *float64
	if score != nil {
		v := *score
		scoreCopy = &v
	}
	return RoadEvent{
		ID:          uuid.NewString(),
		AggregateID: rec.ID,
		SegmentID:   rec.SegmentID,
		Type:        t,
		Severity:    sev,
		Score:       scoreCopy,
		Reason:      reason,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
