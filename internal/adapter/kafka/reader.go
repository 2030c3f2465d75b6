// Package kafka adapts the optional Kafka stream ingest onto the pipeline's
// batch extractor contract.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/roadpulse/road-telemetry-etl/internal/config"
	"github.com/roadpulse/road-telemetry-etl/internal/pipeline"
)

// Reader consumes raw telemetry envelopes from a Kafka topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured telemetry topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // explicit commits only
	})
	return &Reader{reader: r, logger: logger}
}

// ExtractBatch reads up to batchSize messages. The first fetch blocks until
// a message arrives or the context ends; the rest are drained with a short
// deadline so a trickle of traffic still flows promptly.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]pipeline.RawMessage, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	batch := []pipeline.RawMessage{toRaw(first)}

	for len(batch) < batchSize {
		drainCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		msg, err := r.reader.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			break
		}
		batch = append(batch, toRaw(msg))
	}
	return batch, nil
}

// Commit marks the batch as processed so the consumer group does not
// redeliver it.
func (r *Reader) Commit(ctx context.Context, msgs []pipeline.RawMessage) error {
	kmsgs := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = kafkago.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		}
	}
	if err := r.reader.CommitMessages(ctx, kmsgs...); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func toRaw(msg kafkago.Message) pipeline.RawMessage {
	return pipeline.RawMessage{
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
}
