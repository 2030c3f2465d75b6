package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/roadpulse/road-telemetry-etl/internal/adapter/http"
	kafkaadapter "github.com/roadpulse/road-telemetry-etl/internal/adapter/kafka"
	"github.com/roadpulse/road-telemetry-etl/internal/adapter/nominatim"
	"github.com/roadpulse/road-telemetry-etl/internal/config"
	"github.com/roadpulse/road-telemetry-etl/internal/observability"
	"github.com/roadpulse/road-telemetry-etl/internal/pipeline"
	"github.com/roadpulse/road-telemetry-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	ingestor := pipeline.NewIngestor(st, logger, metrics)
	rollups := pipeline.NewRollupEngine(st, logger, metrics)
	scores := pipeline.NewScoreEngine(st, logger, metrics)

	// Geocoding is feature-flagged; without it records stay unbound to road
	// segments and the geocode job endpoint reports a conflict.
	var geocodeJob *pipeline.GeocodeJob
	if cfg.GeocodeEnabled {
		client := nominatim.NewClient(cfg.GeocodeURL, cfg.GeocodeUserAgent, cfg.GeocodeTimeout, logger)
		cached := nominatim.NewCachedGeocoder(client, st, cfg.GeocodeDelay, logger, metrics)
		geocodeJob = pipeline.NewGeocodeJob(st, cached, logger, metrics, cfg.GeocodeBatchSize)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("geocoding enabled", "url", cfg.GeocodeURL, "delay", cfg.GeocodeDelay)
	} else {
		logger.Info("geocoding disabled")
	}

	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:       cfg.HTTPAddr,
		APIKey:     cfg.APIKey,
		WindowDays: cfg.ScoreWindowDays,
		MinRows:    cfg.ScoreMinRows,
		Store:      st,
		Ingestor:   ingestor,
		Geocode:    geocodeJob,
		Rollups:    rollups,
		Scores:     scores,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Optional Kafka stream ingest alongside the HTTP path.
	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		consumer := pipeline.NewStreamConsumer(reader, ingestor, logger, metrics, cfg.IngestBatchSize)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("stream consumer error", "error", err)
			}
		}()
		logger.Info("kafka stream ingest enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
