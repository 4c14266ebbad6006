// Package consumer reads ingest events from Kafka and adds them to the live
// index through the indexer engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/metrics"
)

// Outcomes recorded per event.
const (
	OutcomeIndexed     = "indexed"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// DocumentAdder is satisfied by *indexer.Engine.
type DocumentAdder interface {
	AddDocument(doc index.Document) error
}

// IndexConsumer wraps a Kafka consumer to drive live indexing.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that indexes every ingest
// event. Malformed and invalid events are skipped and committed, duplicates
// are committed as already applied, and an unavailable index is reported as
// an error so the message is retried.
func HandleMessage(engine DocumentAdder, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			m.Ingest(OutcomeInvalid)
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}
		if err := validator.ValidateIngestEvent(&event); err != nil {
			logger.Warn("rejecting invalid ingest event",
				"doc_id", event.ID,
				"error", err,
			)
			m.Ingest(OutcomeInvalid)
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}

		err = engine.AddDocument(event.Document())
		switch {
		case err == nil:
			m.Ingest(OutcomeIndexed)
			logger.Debug("document indexed", "doc_id", event.ID, "url", event.URL)
			return nil
		case errors.Is(err, apperrors.ErrDuplicateDocument):
			m.Ingest(OutcomeDuplicate)
			logger.Info("document already indexed", "doc_id", event.ID)
			return nil
		case errors.Is(err, apperrors.ErrIndexUnavailable):
			m.Ingest(OutcomeUnavailable)
			return fmt.Errorf("indexing document %d: %w", event.ID, err)
		default:
			m.Ingest(OutcomeFailed)
			return fmt.Errorf("indexing document %d: %w", event.ID, err)
		}
	}
}
