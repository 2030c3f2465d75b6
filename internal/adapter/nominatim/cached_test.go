package nominatim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
)

type fakeGeocoder struct {
	mu      sync.Mutex
	calls   int
	results map[string]domain.GeocodeResult
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results[fmt.Sprintf("%.5f,%.5f", lat, lon)], nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.GeocodeResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.GeocodeResult)}
}

func (f *fakeCache) CachedGeocode(_ context.Context, lat, lon float64) (domain.GeocodeResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.entries[fmt.Sprintf("%.5f,%.5f", lat, lon)]
	return g, ok, nil
}

func (f *fakeCache) PutGeocode(_ context.Context, lat, lon float64, g domain.GeocodeResult, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[fmt.Sprintf("%.5f,%.5f", lat, lon)] = g
	return nil
}

func TestCachedGeocoder(t *testing.T) {
	denver := domain.GeocodeResult{RoadName: "Colfax Ave", Region: "CO"}

	t.Run("miss calls the provider and fills the cache", func(t *testing.T) {
		inner := &fakeGeocoder{results: map[string]domain.GeocodeResult{"39.74000,-104.99000": denver}}
		cache := newFakeCache()
		cg := NewCachedGeocoder(inner, cache, 0, testLogger(), observability.NewMetricsForTesting())

		got, err := cg.ReverseGeocode(context.Background(), 39.74, -104.99)
		require.NoError(t, err)
		assert.Equal(t, denver, got)
		assert.Equal(t, 1, inner.callCount())

		cached, ok, err := cache.CachedGeocode(context.Background(), 39.74, -104.99)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, denver, cached)
	})

	t.Run("hit never reaches the provider", func(t *testing.T) {
		inner := &fakeGeocoder{}
		cache := newFakeCache()
		require.NoError(t, cache.PutGeocode(context.Background(), 39.74, -104.99, denver, time.Time{}))

		cg := NewCachedGeocoder(inner, cache, time.Hour, testLogger(), observability.NewMetricsForTesting())
		got, err := cg.ReverseGeocode(context.Background(), 39.74, -104.99)
		require.NoError(t, err)
		assert.Equal(t, denver, got)
		assert.Zero(t, inner.callCount())
	})

	t.Run("empty provider results are cached", func(t *testing.T) {
		inner := &fakeGeocoder{}
		cache := newFakeCache()
		cg := NewCachedGeocoder(inner, cache, 0, testLogger(), observability.NewMetricsForTesting())

		_, err := cg.ReverseGeocode(context.Background(), 0.1, 0.1)
		require.NoError(t, err)
		_, err = cg.ReverseGeocode(context.Background(), 0.1, 0.1)
		require.NoError(t, err)
		assert.Equal(t, 1, inner.callCount())
	})

	t.Run("consecutive provider calls wait out the courtesy delay", func(t *testing.T) {
		inner := &fakeGeocoder{}
		cache := newFakeCache()
		cg := NewCachedGeocoder(inner, cache, 900*time.Millisecond, testLogger(), observability.NewMetricsForTesting())
		fc := clockwork.NewFakeClock()
		cg.SetClock(fc)

		_, err := cg.ReverseGeocode(context.Background(), 1.0, 1.0)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := cg.ReverseGeocode(context.Background(), 2.0, 2.0)
			done <- err
		}()

		// The second call must be parked on the pacing timer.
		fc.BlockUntil(1)
		assert.Equal(t, 1, inner.callCount())

		fc.Advance(900 * time.Millisecond)
		require.NoError(t, <-done)
		assert.Equal(t, 2, inner.callCount())
	})

	t.Run("a cancelled context aborts the wait", func(t *testing.T) {
		inner := &fakeGeocoder{}
		cache := newFakeCache()
		cg := NewCachedGeocoder(inner, cache, time.Hour, testLogger(), observability.NewMetricsForTesting())
		fc := clockwork.NewFakeClock()
		cg.SetClock(fc)

		_, err := cg.ReverseGeocode(context.Background(), 1.0, 1.0)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := cg.ReverseGeocode(ctx, 2.0, 2.0)
			done <- err
		}()

		fc.BlockUntil(1)
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, 1, inner.callCount())
	})
}
