package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func testRecord(nodeID string, at time.Time) *domain.AggregateRecord {
	return &domain.AggregateRecord{
		ReceivedAt:    at,
		NodeID:        nodeID,
		BucketStart:   at,
		BucketSeconds: 5,
		GridKey:       "seg:a1",
		Lat:           fptr(39.74),
		Lon:           fptr(-104.99),
		RoadRoughness: fptr(0.42),
		ShockEvents:   iptr(2),
		Confidence:    fptr(0.8),
		SampleCount:   4,
		Direction:     "NB",
		SpeedBand:     "city",
		Moving:        true,
		Analyzable:    true,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)

	rec := testRecord("dev-1", at)
	rec.QualityNote = domain.AnomalyTags{domain.TagLonLooksLikeSpeed}
	id, err := s.InsertRecord(ctx, rec)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dev-1", got.NodeID)
	assert.Equal(t, at, got.ReceivedAt)
	require.NotNil(t, got.Lat)
	assert.Equal(t, 39.74, *got.Lat)
	assert.Equal(t, 0.42, *got.RoadRoughness)
	assert.Equal(t, 2, *got.ShockEvents)
	assert.True(t, got.Moving)
	assert.True(t, got.Analyzable)
	assert.Equal(t, domain.AnomalyTags{domain.TagLonLooksLikeSpeed}, got.QualityNote)
	assert.Nil(t, got.SpeedMPS)
	assert.Nil(t, got.GeocodedAt)

	missing, err := s.GetRecord(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListRecordsFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	recA := testRecord("dev-1", base)
	recB := testRecord("dev-2", base.Add(time.Hour))
	recB.Analyzable = false
	recC := testRecord("dev-1", base.Add(2*time.Hour))
	recC.Lat, recC.Lon = nil, nil
	for _, r := range []*domain.AggregateRecord{recA, recB, recC} {
		_, err := s.InsertRecord(ctx, r)
		require.NoError(t, err)
	}

	t.Run("newest first, no filter", func(t *testing.T) {
		recs, err := s.ListRecords(ctx, RecordFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, base.Add(2*time.Hour), recs[0].ReceivedAt)
	})

	t.Run("by node", func(t *testing.T) {
		recs, err := s.ListRecords(ctx, RecordFilter{NodeID: "dev-2"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "dev-2", recs[0].NodeID)
	})

	t.Run("analyzable only", func(t *testing.T) {
		analyzable := true
		recs, err := s.ListRecords(ctx, RecordFilter{Analyzable: &analyzable})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("coordinate presence", func(t *testing.T) {
		has := true
		recs, err := s.ListRecords(ctx, RecordFilter{HasCoords: &has})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		has = false
		recs, err = s.ListRecords(ctx, RecordFilter{HasCoords: &has})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Nil(t, recs[0].Lat)
	})

	t.Run("time window", func(t *testing.T) {
		from := base.Add(30 * time.Minute)
		to := base.Add(90 * time.Minute)
		recs, err := s.ListRecords(ctx, RecordFilter{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "dev-2", recs[0].NodeID)
	})

	t.Run("limit and count", func(t *testing.T) {
		recs, err := s.ListRecords(ctx, RecordFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		n, err := s.CountRecords(ctx, RecordFilter{NodeID: "dev-1"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	for i, rough := range []float64{0.2, 0.4} {
		rec := testRecord("dev-1", base)
		rec.RoadRoughness = fptr(rough)
		rec.ShockEvents = iptr(i + 1)
		_, err := s.InsertRecord(ctx, rec)
		require.NoError(t, err)
	}
	later := testRecord("dev-1", base.Add(time.Hour))
	later.RoadRoughness = fptr(0.6)
	_, err := s.InsertRecord(ctx, later)
	require.NoError(t, err)

	// Non-analyzable rows never feed a series.
	excluded := testRecord("dev-1", base)
	excluded.Analyzable = false
	excluded.RoadRoughness = fptr(9.9)
	_, err = s.InsertRecord(ctx, excluded)
	require.NoError(t, err)

	points, err := s.Series(ctx, RecordFilter{NodeID: "dev-1"}, 100)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, base, points[0].BucketStart)
	require.NotNil(t, points[0].AvgRoughness)
	assert.InDelta(t, 0.3, *points[0].AvgRoughness, 1e-9)
	assert.Equal(t, 3, points[0].ShockSum)
	assert.Equal(t, base.Add(time.Hour), points[1].BucketStart)
}

func TestGeocodeBacklog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	withCoords := testRecord("dev-1", base)
	noCoords := testRecord("dev-2", base)
	noCoords.Lat, noCoords.Lon = nil, nil

	id, err := s.InsertRecord(ctx, withCoords)
	require.NoError(t, err)
	_, err = s.InsertRecord(ctx, noCoords)
	require.NoError(t, err)

	pending, err := s.UngeocodedRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	g := domain.GeocodeResult{RoadName: "Colfax Ave", Region: "CO", Locality: "Capitol Hill"}
	require.NoError(t, s.ApplyGeocode(ctx, id, g, "abc123", "nominatim", base.Add(time.Minute)))

	pending, err = s.UngeocodedRecords(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Colfax Ave", got.RoadName)
	assert.Equal(t, "Colfax Ave • Capitol Hill", got.ShortLocation)
	assert.Equal(t, "abc123", got.SegmentID)
	assert.Equal(t, "nominatim", got.GeocodeSrc)
	require.NotNil(t, got.GeocodedAt)
	assert.Equal(t, base.Add(time.Minute), *got.GeocodedAt)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	newEvent := func(evType domain.EventType, sev domain.Severity, created time.Time) domain.RoadEvent {
		return domain.RoadEvent{
			ID:        uuid.NewString(),
			SegmentID: "abc123",
			Type:      evType,
			Severity:  sev,
			Score:     fptr(0.6),
			Reason:    "roughness >= 0.55",
			Status:    domain.StatusOpen,
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	evA := newEvent(domain.EventRoughSurface, domain.SeverityMajor, at)
	evB := newEvent(domain.EventShockCluster, domain.SeverityModerate, at.Add(time.Minute))
	require.NoError(t, s.InsertEvents(ctx, []domain.RoadEvent{evA, evB}))
	require.NoError(t, s.InsertEvents(ctx, nil))

	t.Run("list newest first with filters", func(t *testing.T) {
		events, err := s.ListEvents(ctx, EventFilter{SegmentID: "abc123"})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, evB.ID, events[0].ID)

		events, err = s.ListEvents(ctx, EventFilter{Type: domain.EventRoughSurface})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, evA.ID, events[0].ID)
		require.NotNil(t, events[0].Score)
		assert.Equal(t, 0.6, *events[0].Score)
	})

	t.Run("status lifecycle", func(t *testing.T) {
		later := at.Add(time.Hour)
		require.NoError(t, s.UpdateEventStatus(ctx, evA.ID, domain.StatusAcknowledged, later))
		require.NoError(t, s.UpdateEventStatus(ctx, evA.ID, domain.StatusClosed, later))

		err := s.UpdateEventStatus(ctx, evA.ID, domain.StatusOpen, later)
		require.ErrorIs(t, err, ErrInvalidTransition)

		err = s.UpdateEventStatus(ctx, "no-such-event", domain.StatusClosed, later)
		require.ErrorIs(t, err, ErrNotFound)

		events, err := s.ListEvents(ctx, EventFilter{Status: domain.StatusClosed})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, later, events[0].UpdatedAt)
	})
}

func TestSegmentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	seg := domain.Segment{ID: "abc123", RoadName: "Colfax Ave", Region: "CO"}
	require.NoError(t, s.UpsertSegment(ctx, seg, at))

	t.Run("first known centroid wins", func(t *testing.T) {
		seg.CentroidLat, seg.CentroidLon = fptr(39.74), fptr(-104.99)
		require.NoError(t, s.UpsertSegment(ctx, seg, at.Add(time.Minute)))

		seg.CentroidLat, seg.CentroidLon = fptr(0.0), fptr(0.0)
		require.NoError(t, s.UpsertSegment(ctx, seg, at.Add(2*time.Minute)))

		got, err := s.GetSegment(ctx, "abc123")
		require.NoError(t, err)
		require.NotNil(t, got.CentroidLat)
		assert.Equal(t, 39.74, *got.CentroidLat)
		assert.Equal(t, -104.99, *got.CentroidLon)
	})

	t.Run("identity attributes track the latest upsert", func(t *testing.T) {
		seg.City = "Denver"
		require.NoError(t, s.UpsertSegment(ctx, seg, at.Add(3*time.Minute)))
		got, err := s.GetSegment(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "Denver", got.City)
	})

	t.Run("missing segment", func(t *testing.T) {
		_, err := s.GetSegment(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSegmentsNear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	segments := []domain.Segment{
		{ID: "close", CentroidLat: fptr(39.70), CentroidLon: fptr(-105.00)},
		{ID: "closer", CentroidLat: fptr(39.74), CentroidLon: fptr(-104.99)},
		{ID: "far", CentroidLat: fptr(40.50), CentroidLon: fptr(-111.90)},
		{ID: "no-centroid"},
	}
	for _, seg := range segments {
		require.NoError(t, s.UpsertSegment(ctx, seg, at))
	}

	near, err := s.SegmentsNear(ctx, 39.74, -104.99, 2)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Equal(t, "closer", near[0].ID)
	assert.Equal(t, "close", near[1].ID)
}

func TestRollups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hour := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	t.Run("samples scoped to segment and hour", func(t *testing.T) {
		inHour := testRecord("dev-1", hour.Add(10*time.Minute))
		inHour.SegmentID = "abc123"
		_, err := s.InsertRecord(ctx, inHour)
		require.NoError(t, err)

		noQuality := testRecord("dev-1", hour.Add(20*time.Minute))
		noQuality.SegmentID = "abc123"
		noQuality.Confidence = nil
		_, err = s.InsertRecord(ctx, noQuality)
		require.NoError(t, err)

		nextHour := testRecord("dev-1", hour.Add(70*time.Minute))
		nextHour.SegmentID = "abc123"
		_, err = s.InsertRecord(ctx, nextHour)
		require.NoError(t, err)

		otherSegment := testRecord("dev-2", hour.Add(10*time.Minute))
		otherSegment.SegmentID = "zzz999"
		_, err = s.InsertRecord(ctx, otherSegment)
		require.NoError(t, err)

		samples, err := s.RoughnessSamples(ctx, "abc123", hour)
		require.NoError(t, err)
		require.Len(t, samples, 2)
		assert.Equal(t, 0.42, samples[0].Roughness)
		assert.Nil(t, samples[1].Quality)
	})

	t.Run("touched pairs since a cutoff", func(t *testing.T) {
		touched, err := s.TouchedSegmentHours(ctx, hour)
		require.NoError(t, err)
		require.Len(t, touched, 3)
		assert.Equal(t, SegmentHour{"abc123", hour}, touched[0])
		assert.Equal(t, SegmentHour{"abc123", hour.Add(time.Hour)}, touched[1])
		assert.Equal(t, SegmentHour{"zzz999", hour}, touched[2])

		touched, err = s.TouchedSegmentHours(ctx, hour.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, touched, 1)
		assert.Equal(t, "abc123", touched[0].SegmentID)
	})

	t.Run("upsert replaces in place", func(t *testing.T) {
		r := domain.HourlyRollup{
			SegmentKey: "abc123", HourBucket: hour, SampleCount: 2,
			AvgRoughness: 0.42, P50Roughness: 0.42, P95Roughness: 0.42,
			AvgQuality: 0.8, Score: 81.1, Confidence: 0.3, UpdatedAt: hour.Add(time.Hour),
		}
		require.NoError(t, s.UpsertRollup(ctx, r))

		r.SampleCount = 3
		r.Score = 78.5
		require.NoError(t, s.UpsertRollup(ctx, r))

		got, err := s.RollupFor(ctx, "abc123", hour)
		require.NoError(t, err)
		assert.Equal(t, 3, got.SampleCount)
		assert.Equal(t, 78.5, got.Score)

		_, err = s.RollupFor(ctx, "abc123", hour.Add(5*time.Hour))
		require.ErrorIs(t, err, ErrNotFound)

		all, err := s.RollupsForSegment(ctx, "abc123", 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestWindowScoring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	insert := func(segmentID string, at, geocodedAt time.Time, rough *float64, shocks *int, conf *float64) {
		rec := testRecord("dev-1", at)
		rec.SegmentID = segmentID
		rec.RoadRoughness = rough
		rec.ShockEvents = shocks
		rec.Confidence = conf
		rec.GeocodedAt = &geocodedAt
		_, err := s.InsertRecord(ctx, rec)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		insert("abc123", at, at, fptr(0.4), iptr(i), fptr(0.8))
	}
	// Thin segment, below the row floor.
	insert("thin01", base, base, fptr(0.9), iptr(9), fptr(0.9))
	// Record without device confidence still counts toward the floor.
	insert("abc123", base.Add(6*time.Hour), base.Add(6*time.Hour), fptr(0.4), iptr(1), nil)
	// Record without roughness still counts toward the floor too.
	insert("abc123", base.Add(7*time.Hour), base.Add(7*time.Hour), nil, iptr(7), nil)
	// Stale record geocoded before the window.
	insert("abc123", base.Add(-48*time.Hour), base.Add(-48*time.Hour), fptr(5.0), iptr(50), fptr(1.0))

	t.Run("grouped stats honor the row floor and window", func(t *testing.T) {
		stats, err := s.WindowSegmentStats(ctx, base.Add(-time.Hour), 5)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		st := stats[0]
		assert.Equal(t, "abc123", st.SegmentID)
		assert.Equal(t, 7, st.RowsUsed)
		assert.InDelta(t, 0.4, st.RoughnessMean, 1e-9)
		assert.InDelta(t, 0.8, st.ConfidenceMean, 1e-9)
	})

	t.Run("shock values scoped to segment and window", func(t *testing.T) {
		shocks, err := s.ShockValues(ctx, "abc123", base.Add(-time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, []float64{0, 1, 2, 3, 4, 1, 7}, shocks)
	})

	t.Run("late-geocoded records count toward the window", func(t *testing.T) {
		received := base.AddDate(0, 0, -30)
		for i := 0; i < 5; i++ {
			insert("late01", received.Add(time.Duration(i)*time.Hour), base, fptr(0.5), iptr(2), fptr(0.9))
		}

		stats, err := s.WindowSegmentStats(ctx, base.Add(-time.Hour), 5)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		byID := map[string]SegmentWindowStats{}
		for _, st := range stats {
			byID[st.SegmentID] = st
		}
		late, ok := byID["late01"]
		require.True(t, ok)
		assert.Equal(t, 5, late.RowsUsed)
		assert.InDelta(t, 0.5, late.RoughnessMean, 1e-9)

		shocks, err := s.ShockValues(ctx, "late01", base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, shocks, 5)
	})

	t.Run("full confidence assumed when no row reports one", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			insert("noconf1", base.Add(time.Duration(i)*time.Hour), base, fptr(0.3), iptr(1), nil)
		}

		stats, err := s.WindowSegmentStats(ctx, base.Add(-time.Hour), 5)
		require.NoError(t, err)

		var found bool
		for _, st := range stats {
			if st.SegmentID == "noconf1" {
				found = true
				assert.InDelta(t, 1.0, st.ConfidenceMean, 1e-9)
			}
		}
		require.True(t, found)
	})

	t.Run("score upsert and listings", func(t *testing.T) {
		require.NoError(t, s.UpsertSegment(ctx, domain.Segment{ID: "abc123", RoadName: "Colfax Ave", Region: "CO"}, base))

		sc := domain.SegmentScore{
			SegmentID: "abc123", WindowDays: 7, RowsUsed: 6,
			Score: 47.5, RoughnessMean: 0.4, ShockP95: 3.75, ConfidenceMean: 0.78,
			UpdatedAt: base.Add(7 * time.Hour),
		}
		require.NoError(t, s.UpsertScore(ctx, sc))
		sc.Score = 51.0
		require.NoError(t, s.UpsertScore(ctx, sc))

		top, err := s.TopSegments(ctx, 7, "", 10)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, 51.0, top[0].Score)
		assert.Equal(t, "Colfax Ave", top[0].RoadName)

		top, err = s.TopSegments(ctx, 7, "WY", 10)
		require.NoError(t, err)
		assert.Empty(t, top)

		scores, err := s.SegmentScores(ctx, "abc123")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 7, scores[0].WindowDays)
	})
}

func TestGeocodeCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

	_, ok, err := s.CachedGeocode(ctx, 39.74, -104.99)
	require.NoError(t, err)
	assert.False(t, ok)

	g := domain.GeocodeResult{RoadName: "Colfax Ave", Region: "CO"}
	require.NoError(t, s.PutGeocode(ctx, 39.74, -104.99, g, at))

	t.Run("nearby fixes share an entry", func(t *testing.T) {
		got, ok, err := s.CachedGeocode(ctx, 39.740001, -104.990004)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Colfax Ave", got.RoadName)
	})

	t.Run("distinct coordinates miss", func(t *testing.T) {
		_, ok, err := s.CachedGeocode(ctx, 39.75, -104.99)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty results are cached", func(t *testing.T) {
		require.NoError(t, s.PutGeocode(ctx, 0.1, 0.1, domain.GeocodeResult{}, at))
		got, ok, err := s.CachedGeocode(ctx, 0.1, 0.1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Empty())
	})
}
