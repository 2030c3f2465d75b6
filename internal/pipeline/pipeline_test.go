package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func frozenClocks(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(now)
	domain.SetClock(fc)
	SetClock(fc)
	t.Cleanup(func() {
		domain.SetClock(nil)
		SetClock(nil)
	})
	return now
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestIngestor(t *testing.T) {
	frozenClocks(t)
	st := newTestStore(t)
	ing := NewIngestor(st, testLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	t.Run("envelope lands as records plus derived events", func(t *testing.T) {
		res, err := ing.Ingest(ctx, map[string]any{
			"node_id": "dev-1",
			"rows": []any{
				map[string]any{"lat": 40.0, "lon": -74.0, "road_roughness": 0.6},
				map[string]any{"lat": 41.0, "lon": -75.0, "road_roughness": 0.1},
				"not an object",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Accepted)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, 1, res.Events)
		require.Len(t, res.RecordIDs, 2)

		rec, err := st.GetRecord(ctx, res.RecordIDs[0])
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "dev-1", rec.NodeID)

		events, err := st.ListEvents(ctx, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventRoughSurface, events[0].Type)
		assert.Equal(t, res.RecordIDs[0], events[0].AggregateID)
		assert.Equal(t, domain.StatusOpen, events[0].Status)
	})

	t.Run("unwritable single payload is an error", func(t *testing.T) {
		_, err := ing.Ingest(ctx, map[string]any{"bogus": true})
		require.ErrorIs(t, err, domain.ErrNoWritableFields)
	})
}

type scriptedGeocoder struct {
	results map[string]domain.GeocodeResult
	errs    map[string]error
	calls   int
}

func (g *scriptedGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodeResult, error) {
	g.calls++
	key := store.GeocodeCacheKey(lat, lon)
	if err := g.errs[key]; err != nil {
		return domain.GeocodeResult{}, err
	}
	return g.results[key], nil
}

func TestGeocodeJob(t *testing.T) {
	now := frozenClocks(t)
	st := newTestStore(t)
	ctx := context.Background()

	ing := NewIngestor(st, testLogger(), observability.NewMetricsForTesting())
	res, err := ing.Ingest(ctx, map[string]any{
		"node_id": "dev-1",
		"rows": []any{
			map[string]any{"lat": 39.74, "lon": -104.99, "road_roughness": 0.4},
			map[string]any{"lat": 0.1, "lon": 120.5},
			map[string]any{"road_roughness": 0.2}, // no coordinates, never geocoded
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Accepted)

	geocoder := &scriptedGeocoder{
		results: map[string]domain.GeocodeResult{
			store.GeocodeCacheKey(39.74, -104.99): {RoadName: "Colfax Ave", HwyRef: "US 40", Region: "Colorado", Locality: "Capitol Hill"},
		},
	}
	job := NewGeocodeJob(st, geocoder, testLogger(), observability.NewMetricsForTesting(), 10)

	stats, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Empty)
	assert.Zero(t, stats.Failed)

	t.Run("resolved record is stamped and bound to its segment", func(t *testing.T) {
		rec, err := st.GetRecord(ctx, res.RecordIDs[0])
		require.NoError(t, err)
		assert.Equal(t, "Colfax Ave", rec.RoadName)
		assert.Equal(t, "Colfax Ave • Capitol Hill", rec.ShortLocation)
		assert.Equal(t, domain.SegmentID("US 40", "Colfax Ave", "Colorado"), rec.SegmentID)
		assert.Equal(t, "nominatim", rec.GeocodeSrc)
		require.NotNil(t, rec.GeocodedAt)
		assert.Equal(t, now, *rec.GeocodedAt)

		seg, err := st.GetSegment(ctx, rec.SegmentID)
		require.NoError(t, err)
		assert.Equal(t, "Colfax Ave", seg.RoadName)
		require.NotNil(t, seg.CentroidLat)
		assert.Equal(t, 39.74, *seg.CentroidLat)
	})

	t.Run("empty result is stamped so it is not retried", func(t *testing.T) {
		rec, err := st.GetRecord(ctx, res.RecordIDs[1])
		require.NoError(t, err)
		require.NotNil(t, rec.GeocodedAt)
		assert.Equal(t, domain.UnknownSegmentID(), rec.SegmentID)
		assert.Empty(t, rec.RoadName)
	})

	t.Run("touched pairs cover the analyzable geocoded records", func(t *testing.T) {
		require.Len(t, stats.Touched, 2)
		hours := map[string]bool{}
		for _, sh := range stats.Touched {
			hours[sh.SegmentID] = true
			assert.Equal(t, now.Truncate(time.Hour), sh.HourBucket)
		}
		assert.True(t, hours[domain.SegmentID("US 40", "Colfax Ave", "Colorado")])
	})

	t.Run("backlog is drained", func(t *testing.T) {
		stats, err := job.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Processed)
		assert.Equal(t, 2, geocoder.calls)
	})

	t.Run("failed lookup stays in the backlog", func(t *testing.T) {
		res, err := ing.Ingest(ctx, map[string]any{"node_id": "dev-2", "lat": 45.0, "lon": 7.0})
		require.NoError(t, err)

		failing := &scriptedGeocoder{errs: map[string]error{
			store.GeocodeCacheKey(45.0, 7.0): assert.AnError,
		}}
		job := NewGeocodeJob(st, failing, testLogger(), observability.NewMetricsForTesting(), 10)
		stats, err := job.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)

		rec, err := st.GetRecord(ctx, res.RecordIDs[0])
		require.NoError(t, err)
		assert.Nil(t, rec.GeocodedAt)
	})
}

func TestRollupEngine(t *testing.T) {
	now := frozenClocks(t)
	st := newTestStore(t)
	ctx := context.Background()
	engine := NewRollupEngine(st, testLogger(), observability.NewMetricsForTesting())

	hour := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)
	insert := func(segmentID string, at time.Time, rough *float64, conf *float64, analyzable bool) {
		rec := &domain.AggregateRecord{
			ReceivedAt: at, NodeID: "dev-1", BucketStart: at, BucketSeconds: 5,
			GridKey: "seg:a1", SegmentID: segmentID, SampleCount: 1,
			Direction: "NB", SpeedBand: "city",
			RoadRoughness: rough, Confidence: conf, Analyzable: analyzable,
		}
		_, err := st.InsertRecord(ctx, rec)
		require.NoError(t, err)
	}

	insert("abc123", hour.Add(5*time.Minute), fptr(0.2), fptr(0.8), true)
	insert("abc123", hour.Add(15*time.Minute), fptr(0.4), fptr(0.8), true)
	insert("abc123", hour.Add(25*time.Minute), fptr(0.6), nil, true)
	insert("abc123", hour.Add(35*time.Minute), fptr(9.9), fptr(0.9), false) // excluded
	insert("abc123", hour.Add(45*time.Minute), nil, fptr(0.9), true)        // no roughness

	t.Run("statistics over analyzable samples", func(t *testing.T) {
		written, err := engine.RollupHour(ctx, "abc123", hour.Add(17*time.Minute))
		require.NoError(t, err)
		require.True(t, written)

		r, err := st.RollupFor(ctx, "abc123", hour)
		require.NoError(t, err)
		assert.Equal(t, 3, r.SampleCount)
		assert.InDelta(t, 0.4, r.AvgRoughness, 1e-9)
		assert.InDelta(t, 0.4, r.P50Roughness, 1e-9)
		assert.InDelta(t, 0.58, r.P95Roughness, 1e-9)
		assert.InDelta(t, 0.8, r.AvgQuality, 1e-9) // the no-confidence row is left out
		assert.InDelta(t, 100-(45*0.4+30*0.18), r.Score, 1e-9)
		assert.InDelta(t, domain.ComputeConfidence(3, r.AvgQuality), r.Confidence, 1e-9)
		assert.Equal(t, now, r.UpdatedAt)
	})

	t.Run("empty hour writes nothing and keeps prior materialization", func(t *testing.T) {
		written, err := engine.RollupHour(ctx, "abc123", hour.Add(6*time.Hour))
		require.NoError(t, err)
		assert.False(t, written)

		r, err := st.RollupFor(ctx, "abc123", hour)
		require.NoError(t, err)
		assert.Equal(t, 3, r.SampleCount)
	})

	t.Run("rollup since a cutoff covers touched pairs", func(t *testing.T) {
		insert("zzz999", hour.Add(2*time.Hour), fptr(0.3), fptr(0.9), true)
		written, err := engine.RollupSince(ctx, hour)
		require.NoError(t, err)
		assert.Equal(t, 2, written)

		_, err = st.RollupFor(ctx, "zzz999", hour.Add(2*time.Hour))
		require.NoError(t, err)
	})

	t.Run("quality mean ignores rows without confidence", func(t *testing.T) {
		insert("mixq01", hour.Add(10*time.Minute), fptr(0.3), fptr(0.9), true)
		insert("mixq01", hour.Add(20*time.Minute), fptr(0.5), nil, true)

		written, err := engine.RollupHour(ctx, "mixq01", hour)
		require.NoError(t, err)
		require.True(t, written)

		r, err := st.RollupFor(ctx, "mixq01", hour)
		require.NoError(t, err)
		assert.Equal(t, 2, r.SampleCount)
		assert.InDelta(t, 0.9, r.AvgQuality, 1e-9)
	})

	t.Run("neutral prior applies only when no row reports confidence", func(t *testing.T) {
		insert("noq001", hour.Add(10*time.Minute), fptr(0.3), nil, true)
		insert("noq001", hour.Add(20*time.Minute), fptr(0.5), nil, true)

		written, err := engine.RollupHour(ctx, "noq001", hour)
		require.NoError(t, err)
		require.True(t, written)

		r, err := st.RollupFor(ctx, "noq001", hour)
		require.NoError(t, err)
		assert.InDelta(t, domain.NeutralQualityPrior, r.AvgQuality, 1e-9)
	})
}

func TestScoreEngine(t *testing.T) {
	now := frozenClocks(t)
	st := newTestStore(t)
	ctx := context.Background()
	engine := NewScoreEngine(st, testLogger(), observability.NewMetricsForTesting())

	insert := func(segmentID string, at, geocodedAt time.Time, rough float64, shocks int, conf *float64) {
		rec := &domain.AggregateRecord{
			ReceivedAt: at, NodeID: "dev-1", BucketStart: at, BucketSeconds: 5,
			GridKey: "seg:a1", SegmentID: segmentID, SampleCount: 1,
			Direction: "NB", SpeedBand: "city",
			RoadRoughness: fptr(rough), ShockEvents: iptr(shocks), Confidence: conf,
			Analyzable: true, GeocodedAt: &geocodedAt,
		}
		_, err := st.InsertRecord(ctx, rec)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		at := now.Add(-time.Duration(i) * time.Hour)
		insert("abc123", at, at, 0.4, i, fptr(0.8))
	}
	insert("thin01", now, now, 0.9, 9, fptr(0.9))
	insert("abc123", now.AddDate(0, 0, -10), now.AddDate(0, 0, -10), 5.0, 50, fptr(1.0)) // geocoded outside window

	stats, err := engine.Recompute(ctx, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SegmentsScored)
	assert.Equal(t, 5, stats.RowsUsed)

	scores, err := st.SegmentScores(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	sc := scores[0]
	assert.Equal(t, 7, sc.WindowDays)
	assert.Equal(t, 5, sc.RowsUsed)
	assert.InDelta(t, 0.4, sc.RoughnessMean, 1e-9)
	assert.InDelta(t, 3.8, sc.ShockP95, 1e-9) // p95 of 0..4
	assert.InDelta(t, 0.8, sc.ConfidenceMean, 1e-9)
	assert.InDelta(t, domain.WindowScore(0.4, 3.8, 0.8), sc.Score, 1e-9)
	assert.Equal(t, now, sc.UpdatedAt)

	t.Run("thin segments are never scored", func(t *testing.T) {
		scores, err := st.SegmentScores(ctx, "thin01")
		require.NoError(t, err)
		assert.Empty(t, scores)
	})

	t.Run("rerun replaces in place", func(t *testing.T) {
		insert("abc123", now, now, 0.8, 0, fptr(0.8))
		stats, err := engine.Recompute(ctx, 7, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.SegmentsScored)

		scores, err := st.SegmentScores(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 6, scores[0].RowsUsed)
	})

	t.Run("late-geocoded records count toward the window", func(t *testing.T) {
		received := now.AddDate(0, 0, -30)
		for i := 0; i < 5; i++ {
			insert("late01", received.Add(time.Duration(i)*time.Hour), now.AddDate(0, 0, -1), 0.5, 2, fptr(0.9))
		}

		stats, err := engine.Recompute(ctx, 7, 5)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.SegmentsScored)

		scores, err := st.SegmentScores(ctx, "late01")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 5, scores[0].RowsUsed)
		assert.InDelta(t, 0.5, scores[0].RoughnessMean, 1e-9)
	})
}
