// Package http exposes the telemetry core over a JSON API, plus health,
// readiness, and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadpulse/road-telemetry-etl/internal/pipeline"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

// Server routes API traffic onto the store and pipeline stages.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	store    *store.Store
	ingestor *pipeline.Ingestor
	geocode  *pipeline.GeocodeJob // nil when geocoding is disabled
	rollups  *pipeline.RollupEngine
	scores   *pipeline.ScoreEngine

	apiKey     string
	windowDays int
	minRows    int
}

// Options carries the server's collaborators and settings.
type Options struct {
	Addr       string
	APIKey     string
	WindowDays int
	MinRows    int

	Store    *store.Store
	Ingestor *pipeline.Ingestor
	Geocode  *pipeline.GeocodeJob
	Rollups  *pipeline.RollupEngine
	Scores   *pipeline.ScoreEngine
	Logger   *slog.Logger
}

// NewServer creates the API server and wires all routes.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:     opts.Logger,
		store:      opts.Store,
		ingestor:   opts.Ingestor,
		geocode:    opts.Geocode,
		rollups:    opts.Rollups,
		scores:     opts.Scores,
		apiKey:     opts.APIKey,
		windowDays: opts.WindowDays,
		minRows:    opts.MinRows,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ingest/aggregates", s.requireKey(s.handleIngest))
	mux.HandleFunc("GET /v1/latest", s.handleLatest)
	mux.HandleFunc("GET /v1/records", s.handleRecords)
	mux.HandleFunc("GET /v1/series", s.handleSeries)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/events/{id}/status", s.requireKey(s.handleEventStatus))
	mux.HandleFunc("GET /v1/roads/top", s.handleRoadsTop)
	mux.HandleFunc("GET /v1/roads/near", s.handleRoadsNear)
	mux.HandleFunc("GET /v1/roads/{segment_id}", s.handleRoadDetail)
	mux.HandleFunc("POST /v1/jobs/geocode", s.requireKey(s.handleJobGeocode))
	mux.HandleFunc("POST /v1/jobs/rollup", s.requireKey(s.handleJobRollup))
	mux.HandleFunc("POST /v1/jobs/scores", s.requireKey(s.handleJobScores))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// requireKey guards mutating routes with the shared API key. With no key
// configured the guard is a no-op, which suits single-tenant deployments
// behind their own perimeter.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
