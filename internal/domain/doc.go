// Package domain models crowd-sourced road-condition telemetry.
//
// # Data Source
//
// Mobile devices running the companion app sample accelerometer and GPS data
// while driving, pre-aggregate it into short observation windows ("buckets",
// typically 5 seconds), and upload one record per bucket. Client versions in
// the field disagree on field names and occasionally swap field order, so the
// normalizer is deliberately schema-tolerant: aliases are mapped, unknown keys
// are dropped, and suspicious coordinates are nulled and tagged rather than
// rejected.
//
// # Payload Conventions
//
// Field aliases accepted from older clients:
//
//	speed → speed_mps, heading → heading_deg, lat_deg/latitude → lat,
//	lon_deg/longitude/lng → lon, device_id → node_id
//
// Motion signals:
//
//	road_roughness: unitless roughness index, conventionally [0, 1+].
//	shock_events:   count of discrete jolts detected in the bucket.
//	confidence:     [0, 1] self-reported quality of the bucket.
//
// Known client bugs, detected heuristically and recorded as quality-note tags
// (thresholds are empirically tuned from observed corruption, not derived):
//
//	sanity:lon_zero_lat_tiny            lon ≈ 0 with |lat| < 2: field-order
//	                                    corruption; both coordinates nulled.
//	sanity:lon_looks_like_speed         |lon| ≤ 80 with |lat| < 2 and no
//	                                    speed_mps: advisory only, kept as-is.
//	sanity:lat_lon_suspected_from_conf  lat ∈ [0,1.2], lon == 0, plausible
//	                                    confidence present: the confidence
//	                                    value likely landed in lat; the record
//	                                    is kept for audit but excluded from
//	                                    aggregation (analyzable = false).
//
// Quality notes are a pipe-delimited tag string at the storage boundary; in
// process they are a typed [AnomalyTags] list.
//
// # Segment Identity
//
// Records group by road identity, not raw coordinates. A segment ID is a
// deterministic SHA-256 hash (truncated to 16 hex chars) of the normalized
// (highway_ref, road_name, region) triple; all-empty triples collapse to a
// fixed "UNKNOWN" sentinel so ungeocoded records still group together.
// Determinism makes rollups computed at different times merge correctly.
//
// # Scoring
//
// Hourly rollups score smoothness from the roughness distribution:
//
//	score      = 100 − clamp(45·p50 + 30·max(0, p95−p50), 0, 100)
//	confidence = clamp(logistic(0.25·(n−8)), 0, 1) · clamp(avg_quality, 0, 1)
//
// Higher hourly score means smoother. Rolling-window segment scores invert
// the convention (higher means rougher) to rank problem roads:
//
//	score = rough_mean·100 + min(shock_p95, 20)·2.5, inflated by up to 25%
//	        when mean confidence falls below 0.9.
package domain
