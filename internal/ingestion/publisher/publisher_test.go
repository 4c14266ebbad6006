package publisher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
)

type recordingProducer struct {
	batches [][]kafka.Event
	err     error
}

func (r *recordingProducer) PublishBatch(_ context.Context, events []kafka.Event) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]kafka.Event(nil), events...))
	return nil
}

func docs(n int) []index.Document {
	out := make([]index.Document, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, index.Document{
			ID:    index.DocID(i),
			URL:   fmt.Sprintf("http://example.org/%d", i),
			Title: fmt.Sprintf("page %d", i),
		})
	}
	return out
}

func TestPublishDocumentsBatches(t *testing.T) {
	prod := &recordingProducer{}
	pub := New(prod, 2)

	input := append(docs(5), index.Document{ID: 9, Title: "no url"})
	published, rejected, err := pub.PublishDocuments(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 5, published)
	assert.Equal(t, 1, rejected)
	require.Len(t, prod.batches, 3)
	assert.Len(t, prod.batches[2], 1)

	first := prod.batches[0][0]
	assert.Equal(t, "1", first.Key)
	ev := first.Value.(ingestion.IngestEvent)
	assert.Equal(t, "http://example.org/1", ev.URL)
	assert.False(t, ev.IngestedAt.IsZero())
}

func TestPublishDocumentsPropagatesErrors(t *testing.T) {
	boom := errors.New("broker down")
	pub := New(&recordingProducer{err: boom}, 10)
	published, _, err := pub.PublishDocuments(context.Background(), docs(3))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, published)
}
