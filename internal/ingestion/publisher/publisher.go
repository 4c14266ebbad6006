// Package publisher streams documents onto the ingest topic so running
// searchers add them to their live indexes.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
)

const defaultBatchSize = 500

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Publisher struct {
	producer  BatchPublisher
	batchSize int
	logger    *slog.Logger
}

func New(producer BatchPublisher, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Publisher{
		producer:  producer,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "publisher"),
	}
}

// PublishDocuments validates docs and publishes the valid ones in batches,
// keyed by document ID. It returns how many were published and how many were
// rejected by validation.
func (p *Publisher) PublishDocuments(ctx context.Context, docs []index.Document) (published, rejected int, err error) {
	now := time.Now().UTC()
	batch := make([]kafka.Event, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.producer.PublishBatch(ctx, batch); err != nil {
			return err
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, doc := range docs {
		ev := ingestion.FromDocument(doc)
		ev.IngestedAt = now
		if verr := validator.ValidateIngestEvent(&ev); verr != nil {
			p.logger.Warn("skipping invalid document", "doc_id", doc.ID, "error", verr)
			rejected++
			continue
		}
		batch = append(batch, kafka.Event{
			Key:   strconv.FormatUint(ev.ID, 10),
			Value: ev,
		})
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return published, rejected, fmt.Errorf("publishing documents: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return published, rejected, fmt.Errorf("publishing documents: %w", err)
	}
	p.logger.Info("documents published", "published", published, "rejected", rejected)
	return published, rejected, nil
}
