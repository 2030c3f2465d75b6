package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// GeocodeCacheKey rounds coordinates to five decimals (~1.1 m) so nearby
// fixes share a cache entry without conflating distinct roads.
func GeocodeCacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.5f,%.5f", lat, lon)
}

// CachedGeocode returns the cached reverse-geocode result for the rounded
// coordinate, if any.
func (s *Store) CachedGeocode(ctx context.Context, lat, lon float64) (domain.GeocodeResult, bool, error) {
	var g domain.GeocodeResult
	err := s.db.QueryRowContext(ctx, `SELECT road_name, hwy_ref, region, county, city, locality
FROM geocode_cache WHERE cache_key = ?`, GeocodeCacheKey(lat, lon)).Scan(
		&g.RoadName, &g.HwyRef, &g.Region, &g.County, &g.City, &g.Locality)
	if err == sql.ErrNoRows {
		return g, false, nil
	}
	if err != nil {
		return g, false, fmt.Errorf("geocode cache get: %w", err)
	}
	return g, true, nil
}

// PutGeocode caches a reverse-geocode result. Empty results are cached too:
// a coordinate the provider cannot resolve today is not worth re-asking for
// on every batch.
func (s *Store) PutGeocode(ctx context.Context, lat, lon float64, g domain.GeocodeResult, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO geocode_cache
(cache_key, lat, lon, road_name, hwy_ref, region, county, city, locality, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(cache_key) DO UPDATE SET
road_name = excluded.road_name,
hwy_ref = excluded.hwy_ref,
region = excluded.region,
county = excluded.county,
city = excluded.city,
locality = excluded.locality,
created_at = excluded.created_at`,
		GeocodeCacheKey(lat, lon), lat, lon,
		g.RoadName, g.HwyRef, g.Region, g.County, g.City, g.Locality, formatTime(at))
	if err != nil {
		return fmt.Errorf("geocode cache put: %w", err)
	}
	return nil
}
