package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
)

type sliceSource struct {
	mu   sync.Mutex
	docs []index.Document
	err  error
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Documents(ctx context.Context) ([]index.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]index.Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}

func (s *sliceSource) set(docs ...index.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

func petDocs() []index.Document {
	return []index.Document{
		{ID: 1, URL: "http://a", Title: "A", Body: "cats and dogs"},
		{ID: 2, URL: "http://b", Title: "B", Body: "dogs only"},
	}
}

func newTestEngine(t *testing.T, cfg config.IndexerConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, tokenizer.New(tokenizer.DefaultOptions()), nil)
	require.NoError(t, err)
	return e
}

func TestEngineUnavailableBeforeLoad(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	assert.False(t, e.Ready())

	_, err := e.Index()
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)

	err = e.AddDocument(index.Document{ID: 9, Body: "early"})
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	assert.Equal(t, uint64(0), e.Generation())
}

func TestEngineLoad(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	src := &sliceSource{}
	src.set(append(petDocs(), index.Document{ID: 2, URL: "http://dup", Body: "dup"})...)

	require.NoError(t, e.Load(context.Background(), src))
	assert.True(t, e.Ready())
	assert.Equal(t, uint64(1), e.Generation())

	mi, err := e.Index()
	require.NoError(t, err)
	assert.Equal(t, 2, mi.TotalDocuments())
	doc, _ := mi.Document(2)
	assert.Equal(t, "http://b", doc.URL)

	stats := e.Stats()
	assert.True(t, stats.Ready)
	assert.Equal(t, "slice", stats.Source)
	assert.Equal(t, 2, stats.Documents)
}

func TestEngineLoadFailureKeepsState(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	src := &sliceSource{err: errors.New("corpus offline")}
	assert.Error(t, e.Load(context.Background(), src))
	assert.False(t, e.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src = &sliceSource{}
	src.set(petDocs()...)
	assert.ErrorIs(t, e.Load(ctx, src), context.Canceled)
	assert.False(t, e.Ready())
}

func TestEngineAddDocument(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, e.Load(context.Background(), src))

	require.NoError(t, e.AddDocument(index.Document{ID: 3, URL: "http://c", Body: "birds"}))
	assert.Equal(t, uint64(2), e.Generation())

	err := e.AddDocument(index.Document{ID: 3, URL: "http://c2", Body: "fish"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateDocument)
	assert.Equal(t, uint64(2), e.Generation())

	mi, _ := e.Index()
	assert.Equal(t, 1, mi.DocumentFrequency("bird"))
	assert.Equal(t, 0, mi.DocumentFrequency("fish"))
}

func TestEngineReloadSwapsIndex(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	assert.Error(t, e.Reload(context.Background()))

	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, e.Load(context.Background(), src))
	old, _ := e.Index()

	src.set(index.Document{ID: 1, URL: "http://z", Body: "zebras"})
	require.NoError(t, e.Reload(context.Background()))

	current, _ := e.Index()
	assert.NotSame(t, old, current)
	assert.Equal(t, 1, current.TotalDocuments())
	assert.Equal(t, 1, current.DocumentFrequency("zebra"))
	// readers holding the previous index keep a consistent view
	assert.Equal(t, 2, old.TotalDocuments())
	assert.Equal(t, uint64(2), e.Generation())
}

func TestEngineFlushAndRestore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IndexerConfig{DataDir: dir, KeepSegments: 2}
	e := newTestEngine(t, cfg)
	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, e.Load(context.Background(), src))

	require.NoError(t, e.Flush())
	require.NoError(t, e.Flush())
	paths, err := segment.List(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 1, "unchanged index is not flushed twice")

	restored := newTestEngine(t, cfg)
	ok, err := restored.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	want, _ := e.Index()
	got, _ := restored.Index()
	assert.Equal(t, want.Snapshot(), got.Snapshot())
	assert.Equal(t, want.Documents(), got.Documents())

	assert.Error(t, restored.Reload(context.Background()))
	restored.SetSource(src)
	require.NoError(t, restored.Reload(context.Background()))
	assert.Equal(t, src.Name(), restored.Stats().Source)
}

func TestEngineFlushPrunes(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, config.IndexerConfig{DataDir: dir, KeepSegments: 1})
	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, e.Load(context.Background(), src))
	require.NoError(t, e.Flush())

	require.NoError(t, e.AddDocument(index.Document{ID: 3, URL: "http://c", Body: "birds"}))
	require.NoError(t, e.Flush())

	paths, err := segment.List(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}

func TestEngineLoadSnapshotEmptyDir(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{DataDir: t.TempDir()})
	ok, err := e.LoadSnapshot()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, e.Ready())
}

func TestEngineClose(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, config.IndexerConfig{DataDir: dir, FlushOnClose: true, KeepSegments: 2})
	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, e.Load(context.Background(), src))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Index()
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	assert.ErrorIs(t, e.Load(context.Background(), src), apperrors.ErrIndexUnavailable)

	paths, err := segment.List(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

// gatedSource blocks Documents until release is closed.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSource) Name() string { return "gated" }

func (g *gatedSource) Documents(ctx context.Context) ([]index.Document, error) {
	close(g.started)
	<-g.release
	return petDocs(), nil
}

func TestEngineCloseDuringLoad(t *testing.T) {
	e := newTestEngine(t, config.IndexerConfig{})
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- e.Load(context.Background(), src) }()

	<-src.started
	require.NoError(t, e.Close())
	close(src.release)

	assert.ErrorIs(t, <-done, apperrors.ErrIndexUnavailable)
	assert.False(t, e.Ready())
	_, err := e.Index()
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	assert.Equal(t, uint64(0), e.Generation())
}

func TestEngineLoadSnapshotAfterClose(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IndexerConfig{DataDir: dir, KeepSegments: 2}
	writer := newTestEngine(t, cfg)
	src := &sliceSource{}
	src.set(petDocs()...)
	require.NoError(t, writer.Load(context.Background(), src))
	require.NoError(t, writer.Flush())

	e := newTestEngine(t, cfg)
	require.NoError(t, e.Close())
	ok, err := e.LoadSnapshot()
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	assert.False(t, ok)
	assert.False(t, e.Ready())
}
