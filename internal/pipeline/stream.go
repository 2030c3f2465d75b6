package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/observability"
)

// RawMessage is one unparsed telemetry envelope from the stream source.
type RawMessage struct {
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
}

// BatchExtractor reads up to batchSize raw envelopes from the source and
// commits processed batches.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]RawMessage, error)
	Commit(ctx context.Context, msgs []RawMessage) error
}

// StreamConsumer drives the optional stream ingest loop: fetch a batch of
// envelopes, feed each through the ingestor, commit.
type StreamConsumer struct {
	extractor BatchExtractor
	ingestor  *Ingestor
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
	ready     atomic.Bool
}

// NewStreamConsumer creates the stream ingest loop.
func NewStreamConsumer(e BatchExtractor, ingestor *Ingestor, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *StreamConsumer {
	return &StreamConsumer{
		extractor: e,
		ingestor:  ingestor,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the consumer has processed at least one
// batch.
func (s *StreamConsumer) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("stream consumer has not processed any batches yet")
	}
	return nil
}

// Run executes the consume loop until the context is cancelled.
func (s *StreamConsumer) Run(ctx context.Context) error {
	s.logger.Info("stream consumer started", "batch_size", s.batchSize)

	// Exponential backoff between failed fetches, capped so a broker outage
	// does not turn into a tight loop.
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		batch, err := s.extractor.ExtractBatch(ctx, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("extract batch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-clock.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 200 * time.Millisecond

		for _, msg := range batch {
			var payload map[string]any
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				s.logger.Warn("undecodable envelope, skipping",
					"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
				s.metrics.RecordsSkipped.Inc()
				continue
			}
			if _, err := s.ingestor.Ingest(ctx, payload); err != nil {
				// Normalization errors are terminal for the message; storage
				// errors are not, but redelivering one envelope twice is
				// cheaper than stalling the partition.
				s.logger.Warn("envelope rejected, skipping",
					"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
				s.metrics.RecordsSkipped.Inc()
			}
		}

		if err := s.extractor.Commit(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("commit failed", "error", err)
			continue
		}
		s.ready.Store(true)
	}
}
