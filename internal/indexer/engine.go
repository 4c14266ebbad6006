// Package indexer owns the process-wide inverted index: building it from a
// corpus source, swapping in rebuilt indexes, applying live additions and
// persisting snapshots as segment files.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/metrics"
)

// Source yields the full document set the index is built from.
type Source interface {
	Name() string
	Documents(ctx context.Context) ([]index.Document, error)
}

// Stats describes the live index.
type Stats struct {
	Ready        bool      `json:"ready"`
	Source       string    `json:"source,omitempty"`
	Documents    int       `json:"documents"`
	Terms        int       `json:"terms"`
	AvgDocLength float64   `json:"avg_doc_length"`
	SizeBytes    int64     `json:"size_bytes"`
	Generation   uint64    `json:"generation"`
	LoadedAt     time.Time `json:"loaded_at,omitzero"`
}

// Engine holds the current index behind an atomic pointer. Queries grab the
// pointer once and never block on a rebuild; a rebuild constructs a new
// index off to the side and swaps it in.
type Engine struct {
	current    atomic.Pointer[index.MemoryIndex]
	generation atomic.Uint64
	flushedGen atomic.Uint64
	closed     atomic.Bool

	// writeMu serialises index swaps, live additions and flushes.
	writeMu  sync.Mutex
	source   Source
	loadedAt time.Time

	tok     *tokenizer.Tokenizer
	writer  *segment.Writer
	cfg     config.IndexerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEngine(cfg config.IndexerConfig, tok *tokenizer.Tokenizer, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		tok:     tok,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating index data directory: %w", err)
		}
		e.writer = segment.NewWriter(cfg.DataDir)
	}
	return e, nil
}

func (e *Engine) Tokenizer() *tokenizer.Tokenizer {
	return e.tok
}

// Load builds a fresh index from src and swaps it in. The previous index, if
// any, keeps serving queries until the swap.
func (e *Engine) Load(ctx context.Context, src Source) error {
	if e.closed.Load() {
		return apperrors.ErrIndexUnavailable
	}
	start := time.Now()
	e.logger.Info("building index", "source", src.Name())

	docs, err := src.Documents(ctx)
	if err != nil {
		return fmt.Errorf("reading documents from %s: %w", src.Name(), err)
	}

	mi := index.NewMemoryIndex(e.tok)
	skipped := 0
	for i, doc := range docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("building index: %w", err)
			}
		}
		if err := mi.AddDocument(doc); err != nil {
			if errors.Is(err, apperrors.ErrDuplicateDocument) {
				e.logger.Warn("skipping duplicate document", "doc_id", doc.ID, "url", doc.URL)
				skipped++
				continue
			}
			return fmt.Errorf("indexing document %d: %w", doc.ID, err)
		}
	}

	e.writeMu.Lock()
	if e.closed.Load() {
		e.writeMu.Unlock()
		return apperrors.ErrIndexUnavailable
	}
	e.current.Store(mi)
	gen := e.generation.Add(1)
	e.source = src
	e.loadedAt = time.Now()
	e.writeMu.Unlock()

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.IndexLoadDuration.Observe(elapsed.Seconds())
		e.metrics.DocsIndexedTotal.Add(float64(mi.TotalDocuments()))
	}
	e.metrics.ObserveIndex(mi.TotalDocuments(), mi.TermCount(), gen)
	e.logger.Info("index ready",
		"source", src.Name(),
		"docs", mi.TotalDocuments(),
		"terms", mi.TermCount(),
		"skipped", skipped,
		"generation", gen,
		"duration", elapsed,
	)
	return nil
}

// Reload rebuilds from the source of the last successful Load.
func (e *Engine) Reload(ctx context.Context) error {
	e.writeMu.Lock()
	src := e.source
	e.writeMu.Unlock()
	if src == nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusConflict, "no corpus source loaded")
	}
	return e.Load(ctx, src)
}

// SetSource records src for Reload without rebuilding, for an engine whose
// index was restored from a snapshot.
func (e *Engine) SetSource(src Source) {
	e.writeMu.Lock()
	e.source = src
	e.writeMu.Unlock()
}

// LoadSnapshot restores the newest readable segment from the data directory.
// It reports false when there is nothing to restore, and ErrIndexUnavailable
// once the engine is closed.
func (e *Engine) LoadSnapshot() (bool, error) {
	if e.closed.Load() {
		return false, apperrors.ErrIndexUnavailable
	}
	if e.cfg.DataDir == "" {
		return false, nil
	}
	paths, err := segment.List(e.cfg.DataDir)
	if err != nil {
		return false, err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		mi, err := e.readSegment(paths[i])
		if err != nil {
			e.logger.Error("failed to restore segment, trying older", "segment", paths[i], "error", err)
			continue
		}
		e.writeMu.Lock()
		if e.closed.Load() {
			e.writeMu.Unlock()
			return false, apperrors.ErrIndexUnavailable
		}
		e.current.Store(mi)
		gen := e.generation.Add(1)
		e.flushedGen.Store(gen)
		e.loadedAt = time.Now()
		e.writeMu.Unlock()

		e.metrics.ObserveIndex(mi.TotalDocuments(), mi.TermCount(), gen)
		e.logger.Info("restored index from segment",
			"segment", paths[i],
			"docs", mi.TotalDocuments(),
			"terms", mi.TermCount(),
		)
		return true, nil
	}
	return false, nil
}

func (e *Engine) readSegment(path string) (*index.MemoryIndex, error) {
	r, err := segment.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll(e.tok)
}

// AddDocument indexes one document into the live index.
func (e *Engine) AddDocument(doc index.Document) error {
	if e.current.Load() == nil {
		return apperrors.ErrIndexUnavailable
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	mi := e.current.Load()
	if mi == nil {
		return apperrors.ErrIndexUnavailable
	}
	if err := mi.AddDocument(doc); err != nil {
		return err
	}
	gen := e.generation.Add(1)
	e.metrics.DocIndexed()
	e.metrics.ObserveIndex(mi.TotalDocuments(), mi.TermCount(), gen)
	e.logger.Debug("document indexed",
		"doc_id", doc.ID,
		"url", doc.URL,
		"generation", gen,
	)
	return nil
}

// Index returns the live index, or ErrIndexUnavailable before the first
// successful load and after Close.
func (e *Engine) Index() (*index.MemoryIndex, error) {
	mi := e.current.Load()
	if mi == nil {
		return nil, apperrors.ErrIndexUnavailable
	}
	return mi, nil
}

func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// Generation increases on every load and every added document.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

func (e *Engine) Stats() Stats {
	e.writeMu.Lock()
	mi := e.current.Load()
	s := Stats{
		Ready:      mi != nil,
		Generation: e.generation.Load(),
		LoadedAt:   e.loadedAt,
	}
	if e.source != nil {
		s.Source = e.source.Name()
	}
	e.writeMu.Unlock()
	if mi != nil {
		s.Documents = mi.TotalDocuments()
		s.Terms = mi.TermCount()
		s.AvgDocLength = mi.AverageDocumentLength()
		s.SizeBytes = mi.Size()
	}
	return s
}

// Flush writes the live index to a new segment if it changed since the last
// flush, then prunes old segments.
func (e *Engine) Flush() error {
	if e.writer == nil {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	mi := e.current.Load()
	gen := e.generation.Load()
	if mi == nil || mi.TotalDocuments() == 0 || gen == e.flushedGen.Load() {
		return nil
	}
	segmentName, err := e.writer.Write(mi.Documents(), mi.Snapshot())
	if err != nil {
		e.metrics.Flush("error")
		return fmt.Errorf("writing segment: %w", err)
	}
	e.flushedGen.Store(gen)
	e.metrics.Flush("success")

	removed, err := segment.Prune(e.cfg.DataDir, e.cfg.KeepSegments)
	if err != nil {
		e.logger.Warn("pruning old segments failed", "error", err)
	}
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"docs", mi.TotalDocuments(),
		"terms", mi.TermCount(),
		"generation", gen,
		"pruned", len(removed),
	)
	return nil
}

// StartFlushLoop flushes every FlushInterval until ctx is cancelled.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.writer == nil || e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping")
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close flushes (when configured) and discards the index. Later queries see
// ErrIndexUnavailable.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var err error
	if e.cfg.FlushOnClose {
		if err = e.Flush(); err != nil {
			e.logger.Error("final flush on close failed", "error", err)
		}
	}
	e.writeMu.Lock()
	e.current.Store(nil)
	e.writeMu.Unlock()
	return err
}
