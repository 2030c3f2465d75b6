package nominatim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
)

// Cache is the persistent lookup-by-rounded-coordinate storage the cached
// geocoder reads through. Satisfied by *store.Store.
type Cache interface {
	CachedGeocode(ctx context.Context, lat, lon float64) (domain.GeocodeResult, bool, error)
	PutGeocode(ctx context.Context, lat, lon float64, g domain.GeocodeResult, at time.Time) error
}

// CachedGeocoder wraps a Geocoder with a persistent cache and a courtesy
// delay between external calls. Cache hits return immediately; only real
// provider traffic is paced.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   Cache
	delay   time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	mu       sync.Mutex
	lastCall time.Time
}

// NewCachedGeocoder creates a cache decorator around a geocoder. delay is
// the minimum spacing between calls that reach the wrapped provider.
func NewCachedGeocoder(inner domain.Geocoder, cache Cache, delay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache,
		delay:   delay,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock replaces the pacing clock. Tests only.
func (c *CachedGeocoder) SetClock(clock clockwork.Clock) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c.clock = clock
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodeResult, error) {
	if result, ok, err := c.cache.CachedGeocode(ctx, lat, lon); err != nil {
		return domain.GeocodeResult{}, err
	} else if ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	if err := c.pace(ctx); err != nil {
		return domain.GeocodeResult{}, err
	}

	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}

	// Empty results are cached too, so an unresolvable coordinate does not
	// cost one provider call per batch forever.
	if err := c.cache.PutGeocode(ctx, lat, lon, result, c.clock.Now().UTC()); err != nil {
		c.logger.Warn("geocode cache write failed", "error", err)
	}
	return result, nil
}

// pace blocks until the courtesy delay since the previous provider call has
// elapsed. The mutex is held across the wait so concurrent callers queue up
// instead of hammering the provider together.
func (c *CachedGeocoder) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCall.IsZero() {
		if wait := c.delay - c.clock.Since(c.lastCall); wait > 0 {
			select {
			case <-c.clock.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	c.lastCall = c.clock.Now()
	return nil
}
