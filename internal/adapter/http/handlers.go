package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), payload)
	if err != nil {
		if errors.Is(err, domain.ErrNoWritableFields) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := s.store.ListRecords(r.Context(), store.RecordFilter{Limit: limit})
	if err != nil {
		s.logger.Error("list latest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recordsJSON(records)})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = queryInt(r, "limit", 100)
	filter.Offset = queryInt(r, "offset", 0)

	records, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("list records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	total, err := s.store.CountRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("count records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recordsJSON(records),
		"total":   total,
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.store.Series(r.Context(), filter, queryInt(r, "max_points", 500))
	if err != nil {
		s.logger.Error("series failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if points == nil {
		points = []store.SeriesPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		SegmentID: q.Get("segment_id"),
		Type:      domain.EventType(q.Get("type")),
		Severity:  domain.Severity(q.Get("severity")),
		Status:    domain.EventStatus(q.Get("status")),
		Limit:     queryInt(r, "limit", 100),
	}
	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventsJSON(events)})
}

func (s *Server) handleEventStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.EventStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"status\": ...}")
		return
	}

	err := s.store.UpdateEventStatus(r.Context(), r.PathValue("id"), body.Status, clock.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("event status update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
	}
}

func (s *Server) handleRoadsTop(w http.ResponseWriter, r *http.Request) {
	windowDays := queryInt(r, "window_days", s.windowDays)
	top, err := s.store.TopSegments(r.Context(), windowDays, r.URL.Query().Get("region"), queryInt(r, "limit", 20))
	if err != nil {
		s.logger.Error("top segments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days": windowDays,
		"segments":    scoredJSON(top),
	})
}

func (s *Server) handleRoadsNear(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	segments, err := s.store.SegmentsNear(r.Context(), lat, lon, queryInt(r, "limit", 10))
	if err != nil {
		s.logger.Error("segments near failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segmentsJSON(segments)})
}

func (s *Server) handleRoadDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("segment_id")
	seg, err := s.store.GetSegment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	if err != nil {
		s.logger.Error("get segment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	scores, err := s.store.SegmentScores(r.Context(), id)
	if err != nil {
		s.logger.Error("segment scores failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	rollups, err := s.store.RollupsForSegment(r.Context(), id, queryInt(r, "hours", 24))
	if err != nil {
		s.logger.Error("segment rollups failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segment": segmentJSON(seg),
		"scores":  scoresJSON(scores),
		"hourly":  rollupsJSON(rollups),
	})
}

func (s *Server) handleJobGeocode(w http.ResponseWriter, r *http.Request) {
	if s.geocode == nil {
		writeError(w, http.StatusConflict, "geocoding is disabled")
		return
	}
	stats, err := s.geocode.Run(r.Context())
	if err != nil {
		s.logger.Error("geocode job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "geocode job failed")
		return
	}

	// Freshly bound segments invalidate their hourly rollups.
	written, err := s.rollups.RollupPairs(r.Context(), stats.Touched)
	if err != nil {
		s.logger.Error("post-geocode rollup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "rollup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed":       stats.Processed,
		"resolved":        stats.Resolved,
		"empty":           stats.Empty,
		"failed":          stats.Failed,
		"rollups_written": written,
	})
}

func (s *Server) handleJobRollup(w http.ResponseWriter, r *http.Request) {
	since := clock.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}
	written, err := s.rollups.RollupSince(r.Context(), since)
	if err != nil {
		s.logger.Error("rollup job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "rollup job failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollups_written": written})
}

func (s *Server) handleJobScores(w http.ResponseWriter, r *http.Request) {
	windowDays := queryInt(r, "window_days", s.windowDays)
	stats, err := s.scores.Recompute(r.Context(), windowDays, s.minRows)
	if err != nil {
		s.logger.Error("score job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "score job failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days":     windowDays,
		"segments_scored": stats.SegmentsScored,
		"rows_used":       stats.RowsUsed,
	})
}

func parseRecordFilter(r *http.Request) (store.RecordFilter, error) {
	q := r.URL.Query()
	filter := store.RecordFilter{
		NodeID:    q.Get("node_id"),
		GridKey:   q.Get("grid_key"),
		SegmentID: q.Get("segment_id"),
		Direction: q.Get("direction"),
		SpeedBand: q.Get("speed_band"),
	}

	if v := q.Get("analyzable"); v != "" {
		b := v == "true"
		filter.Analyzable = &b
	}
	if v := q.Get("has_coords"); v != "" {
		b := v == "true"
		filter.HasCoords = &b
	}
	if v := q.Get("min_conf"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, errors.New("min_conf must be a number")
		}
		filter.MinConf = &f
	}
	if v := q.Get("max_conf"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, errors.New("max_conf must be a number")
		}
		filter.MaxConf = &f
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("from must be RFC 3339")
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("to must be RFC 3339")
		}
		filter.To = &t
	}
	return filter, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
