// Package ingestion defines the document event exchanged on the ingest topic
// and accepted by the documents endpoint.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
)

// IngestEvent is one document to add to the live index.
type IngestEvent struct {
	ID         uint64    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	IngestedAt time.Time `json:"ingested_at,omitzero"`
}

func (e IngestEvent) Document() index.Document {
	return index.Document{
		ID:    index.DocID(e.ID),
		URL:   e.URL,
		Title: e.Title,
		Body:  e.Body,
	}
}

func FromDocument(doc index.Document) IngestEvent {
	return IngestEvent{
		ID:    uint64(doc.ID),
		URL:   doc.URL,
		Title: doc.Title,
		Body:  doc.Body,
	}
}

// IngestResponse is returned after a document has been indexed.
type IngestResponse struct {
	ID         uint64 `json:"id"`
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
}
