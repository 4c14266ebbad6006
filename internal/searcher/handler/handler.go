// Package handler serves the search HTTP API: the public /search endpoint
// that returns bare {url, title} hits, and the /api/v1 endpoints for full
// results, document ingestion and index and cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/tracing"
)

// maxDocumentBytes bounds POST /api/v1/documents bodies.
const maxDocumentBytes = 2 << 20

// SearchExecutor is satisfied by *executor.Executor.
type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error)
	Mode() parser.Mode
}

// IndexManager is satisfied by *indexer.Engine.
type IndexManager interface {
	Index() (*index.MemoryIndex, error)
	Generation() uint64
	AddDocument(doc index.Document) error
	Reload(ctx context.Context) error
	Stats() indexer.Stats
}

// Hit is one public search result. It deliberately carries nothing but the
// page address and title.
type Hit struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Deps are the collaborators of a Handler. Cache, Collector, Metrics and
// Tracer are optional.
type Deps struct {
	Index     IndexManager
	Executor  SearchExecutor
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Tracer    *tracing.Tracer
}

// Limits bound result sizes on /api/v1/search and the time any search may
// take. /search is never truncated.
type Limits struct {
	DefaultLimit  int
	MaxResults    int
	SearchTimeout time.Duration
}

type Handler struct {
	index     IndexManager
	executor  SearchExecutor
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer
	limits    Limits
	logger    *slog.Logger
}

func New(deps Deps, limits Limits) *Handler {
	return &Handler{
		index:     deps.Index,
		executor:  deps.Executor,
		cache:     deps.Cache,
		collector: deps.Collector,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		limits:    limits,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /api/v1/search", h.SearchV1)
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves GET /search?query=. The body is always a JSON array of hits
// ordered by relevance, or an error object.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	result, err := h.run(r.Context(), query, 0, "search")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	hits := make([]Hit, len(result.Results))
	for i, res := range result.Results {
		hits[i] = Hit{URL: res.URL, Title: res.Title}
	}
	h.writeJSON(w, http.StatusOK, hits)
}

// SearchV1 serves GET /api/v1/search?q=&limit= with scores and hit counts.
func (h *Handler) SearchV1(w http.ResponseWriter, r *http.Request) {
	limit := h.limits.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if h.limits.MaxResults > 0 && limit > h.limits.MaxResults {
		limit = h.limits.MaxResults
	}

	result, err := h.run(r.Context(), r.URL.Query().Get("q"), limit, "api")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// run parses and executes query through the cache. limit <= 0 returns every
// match.
func (h *Handler) run(ctx context.Context, query string, limit int, endpoint string) (*executor.SearchResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	ctx, span := h.tracer.Start(ctx, "search", logger.RequestID(ctx))
	defer span.End()
	span.SetAttr("query", query)

	var (
		plan     *parser.QueryPlan
		result   *executor.SearchResult
		cacheHit bool
		err      error
	)
	if strings.TrimSpace(query) != "" {
		err = resilience.WithTimeout(ctx, h.limits.SearchTimeout, "search", func(ctx context.Context) error {
			mi, err := h.index.Index()
			if err != nil {
				return err
			}
			_, parseSpan := tracing.Child(ctx, "parse")
			plan = parser.Parse(query, mi.Tokenizer(), h.executor.Mode())
			parseSpan.End()
			result, cacheHit, err = h.execute(ctx, plan, limit)
			return err
		})
	} else {
		result = &executor.SearchResult{Query: query, Results: []executor.ScoredResult{}, TermStats: map[string]int{}}
	}

	elapsed := time.Since(start)
	h.record(ctx, query, plan, result, cacheHit, err, elapsed, endpoint)
	if err != nil {
		if errors.Is(err, apperrors.ErrIndexUnavailable) {
			log.Warn("search rejected, index unavailable", "query", query)
		} else {
			log.Error("search execution failed", "query", query, "error", err)
		}
		span.SetAttr("error", err.Error())
		return nil, err
	}
	span.SetAttr("total_hits", result.TotalHits)
	log.Info("search completed",
		"query", query,
		"endpoint", endpoint,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

func (h *Handler) execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, bool, error) {
	ctx, span := tracing.Child(ctx, "execute")
	defer span.End()
	if h.cache == nil || plan.Empty() {
		res, err := h.executor.Execute(ctx, plan, limit)
		return res, false, err
	}
	key := cache.Key(plan.Canonical(), limit, h.index.Generation())
	res, hit, err := h.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, plan, limit)
	})
	span.SetAttr("cache_hit", hit)
	if err != nil {
		return nil, false, err
	}
	// cached results carry the query text of whoever computed them
	out := *res
	out.Query = plan.RawQuery
	return &out, hit, nil
}

func (h *Handler) record(ctx context.Context, query string, plan *parser.QueryPlan, result *executor.SearchResult,
	cacheHit bool, err error, elapsed time.Duration, endpoint string) {
	totalHits, returned := 0, 0
	if result != nil {
		totalHits, returned = result.TotalHits, len(result.Results)
	}

	resultType := metrics.ResultSuccess
	switch {
	case errors.Is(err, apperrors.ErrIndexUnavailable):
		resultType = metrics.ResultUnavailable
	case err != nil:
		resultType = metrics.ResultError
	case totalHits == 0:
		resultType = metrics.ResultZeroResults
	}
	cacheStatus := "miss"
	switch {
	case cacheHit:
		cacheStatus = "hit"
	case h.cache == nil:
		cacheStatus = "disabled"
	}
	h.metrics.Search(resultType, cacheStatus, elapsed.Seconds(), totalHits)

	if h.collector == nil || strings.TrimSpace(query) == "" {
		return
	}
	var terms []string
	if plan != nil {
		for _, g := range plan.Groups {
			for _, t := range g.Terms {
				terms = append(terms, t.Key())
			}
		}
	}
	h.collector.Track(analytics.SearchEvent{
		Type:      analytics.Classify(err, totalHits, cacheHit),
		Query:     query,
		Terms:     terms,
		TotalHits: totalHits,
		Returned:  returned,
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  cacheHit,
		Endpoint:  endpoint,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}

// AddDocument serves POST /api/v1/documents.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var ev ingestion.IngestEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestEvent(&ev); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid document")
		return
	}

	if err := h.index.AddDocument(ev.Document()); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	log.Info("document added", "doc_id", ev.ID, "url", ev.URL)
	h.writeJSON(w, http.StatusCreated, ingestion.IngestResponse{
		ID:         ev.ID,
		Status:     "indexed",
		Generation: h.index.Generation(),
	})
}

// Reload serves POST /api/v1/index/reload. The rebuild runs in the request;
// the old index keeps serving searches until it completes.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Reload(r.Context()); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// writeAppError maps err to its status and fixed public message. The error
// itself is logged, never sent.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
