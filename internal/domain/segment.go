package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// unknownSegmentBase is the sentinel hashed when no identity attribute is
// known, so ungeocoded records still group under one stable segment.
const unknownSegmentBase = "UNKNOWN"

// SegmentID derives a stable, deterministic segment identifier from geocoded
// road attributes. Inputs are trimmed and upper-cased before hashing, so the
// identity survives casing and whitespace differences between geocode
// responses. The hash is truncated to 16 hex chars, comfortably collision
// free at single-deployment segment cardinality.
func SegmentID(hwyRef, roadName, region string) string {
	base := strings.Join([]string{
		normalizeIdentityPart(hwyRef),
		normalizeIdentityPart(roadName),
		normalizeIdentityPart(region),
	}, "|")
	if base == "||" {
		base = unknownSegmentBase
	}
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:8])
}

// UnknownSegmentID is the identity assigned when nothing is known about the
// road. Exposed so callers can recognize the sentinel bucket.
func UnknownSegmentID() string {
	return SegmentID("", "", "")
}

func normalizeIdentityPart(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
