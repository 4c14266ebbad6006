package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/metrics"
)

type fakeEngine struct {
	added []index.Document
	err   error
}

func (f *fakeEngine) AddDocument(doc index.Document) error {
	if f.err != nil {
		return f.err
	}
	for _, d := range f.added {
		if d.ID == doc.ID {
			return apperrors.ErrDuplicateDocument
		}
	}
	f.added = append(f.added, doc)
	return nil
}

const validEvent = `{"id":3,"url":"http://c.example","title":"Birds","body":"birds sing"}`

func TestHandleMessageIndexesAndSkipsDuplicates(t *testing.T) {
	eng := &fakeEngine{}
	m := metrics.New(nil)
	handle := HandleMessage(eng, m)
	ctx := context.Background()

	require.NoError(t, handle(ctx, []byte("3"), []byte(validEvent)))
	require.Len(t, eng.added, 1)
	assert.Equal(t, index.Document{ID: 3, URL: "http://c.example", Title: "Birds", Body: "birds sing"}, eng.added[0])

	require.NoError(t, handle(ctx, []byte("3"), []byte(validEvent)))
	assert.Len(t, eng.added, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues(OutcomeIndexed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues(OutcomeDuplicate)))
}

func TestHandleMessageSkipsBadEvents(t *testing.T) {
	eng := &fakeEngine{}
	handle := HandleMessage(eng, nil)

	err := handle(context.Background(), nil, []byte(`not json`))
	assert.ErrorIs(t, err, kafka.ErrSkip)

	err = handle(context.Background(), nil, []byte(`{"id":0,"url":"http://x","title":"t"}`))
	assert.ErrorIs(t, err, kafka.ErrSkip)
	assert.Empty(t, eng.added)
}

func TestHandleMessageRetriesWhenUnavailable(t *testing.T) {
	handle := HandleMessage(&fakeEngine{err: apperrors.ErrIndexUnavailable}, nil)
	err := handle(context.Background(), nil, []byte(validEvent))
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	assert.False(t, errors.Is(err, kafka.ErrSkip))
}
