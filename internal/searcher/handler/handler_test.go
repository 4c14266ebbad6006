package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/tracing"
)

type sliceSource []index.Document

func (s sliceSource) Name() string { return "memory" }

func (s sliceSource) Documents(context.Context) ([]index.Document, error) {
	return s, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

var scenarioDocs = sliceSource{
	{ID: 1, URL: "http://a", Title: "cats and dogs"},
	{ID: 2, URL: "http://b", Title: "dogs only"},
}

type fixture struct {
	engine  *indexer.Engine
	handler *Handler
	mux     *http.ServeMux
}

type option func(*Deps)

func withCache() option {
	return func(d *Deps) {
		d.Cache = cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	}
}

func withCollector(c *analytics.Collector) option {
	return func(d *Deps) { d.Collector = c }
}

func newFixture(t *testing.T, src indexer.Source, opts ...option) *fixture {
	t.Helper()
	tok := tokenizer.New(tokenizer.DefaultOptions())
	eng, err := indexer.NewEngine(config.IndexerConfig{}, tok, nil)
	require.NoError(t, err)
	if src != nil {
		require.NoError(t, eng.Load(context.Background(), src))
	}
	deps := Deps{
		Index:    eng,
		Executor: executor.New(eng, ranker.NewBM25(), parser.MatchAny),
		Tracer:   tracing.New(true),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h := New(deps, Limits{DefaultLimit: 50, MaxResults: 100, SearchTimeout: 5 * time.Second})
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{engine: eng, handler: h, mux: mux}
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) search(t *testing.T, query string) []map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/search?query="+url.QueryEscape(query), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var hits []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
	require.NotNil(t, hits, "body must be a JSON array, not null")
	for _, hit := range hits {
		keys := make([]string, 0, len(hit))
		for k := range hit {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{"title", "url"}, keys)
	}
	return hits
}

func hitURLs(hits []map[string]any) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h["url"].(string)
	}
	return out
}

func TestSearchScenario(t *testing.T) {
	f := newFixture(t, scenarioDocs)

	hits := f.search(t, "cats")
	require.Len(t, hits, 1)
	assert.Equal(t, map[string]any{"url": "http://a", "title": "cats and dogs"}, hits[0])

	assert.ElementsMatch(t, []string{"http://a", "http://b"}, hitURLs(f.search(t, "dogs")))
	assert.Empty(t, f.search(t, "birds"))
	assert.Empty(t, f.search(t, ""))

	rec := f.do(t, http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSearchNeverTruncates(t *testing.T) {
	docs := make(sliceSource, 0, 60)
	for i := 1; i <= 60; i++ {
		docs = append(docs, index.Document{
			ID:    index.DocID(i),
			URL:   fmt.Sprintf("http://site/%d", i),
			Title: fmt.Sprintf("page %d", i),
			Body:  "common",
		})
	}
	f := newFixture(t, docs)
	assert.Len(t, f.search(t, "common"), 60)

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=common", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res executor.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Results, 50)
	assert.Equal(t, 60, res.TotalHits)
}

func TestSearchBeforeLoad(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/search?query=dogs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"index unavailable"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/search?query=", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=dogs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, *parser.QueryPlan, int) (*executor.SearchResult, error) {
	return nil, errors.New("reading /var/lib/websearch/secret: permission denied")
}

func (failingExecutor) Mode() parser.Mode { return parser.MatchAny }

func TestSearchInternalErrorIsGeneric(t *testing.T) {
	f := newFixture(t, scenarioDocs)
	f.handler.executor = failingExecutor{}

	rec := f.do(t, http.MethodGet, "/search?query=dogs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "/var/lib")
}

type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ *parser.QueryPlan, _ int) (*executor.SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingExecutor) Mode() parser.Mode { return parser.MatchAny }

func TestSearchTimeout(t *testing.T) {
	f := newFixture(t, scenarioDocs)
	f.handler.executor = blockingExecutor{}
	f.handler.limits.SearchTimeout = 20 * time.Millisecond

	for _, target := range []string{"/search?query=dogs", "/api/v1/search?q=dogs"} {
		rec := f.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		assert.JSONEq(t, `{"error":"search timed out"}`, rec.Body.String(), target)
	}
}

func TestSearchV1Limits(t *testing.T) {
	f := newFixture(t, scenarioDocs)

	for _, bad := range []string{"0", "-3", "ten"} {
		rec := f.do(t, http.MethodGet, "/api/v1/search?q=dogs&limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=dogs&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res executor.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Results, 1)
	assert.Equal(t, 2, res.TotalHits)
	assert.Equal(t, "dogs", res.Query)
	assert.Equal(t, map[string]int{"dog": 2}, res.TermStats)

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=dogs&limit=100000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddDocument(t *testing.T) {
	f := newFixture(t, scenarioDocs)

	rec := f.do(t, http.MethodPost, "/api/v1/documents", `{"id":3,"url":"http://c","title":"birds","body":"birds sing"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"indexed"`)
	assert.Equal(t, []string{"http://c"}, hitURLs(f.search(t, "birds")))

	rec = f.do(t, http.MethodPost, "/api/v1/documents", `{"id":3,"url":"http://c","title":"birds"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"document already indexed"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/documents", `{"id":4,"url":"nope","title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed")

	rec = f.do(t, http.MethodPost, "/api/v1/documents", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unloaded := newFixture(t, nil)
	rec = unloaded.do(t, http.MethodPost, "/api/v1/documents", `{"id":3,"url":"http://c","title":"birds"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReloadAndStats(t *testing.T) {
	unloaded := newFixture(t, nil)
	rec := unloaded.do(t, http.MethodPost, "/api/v1/index/reload", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"no corpus source loaded"}`, rec.Body.String())

	f := newFixture(t, scenarioDocs)
	require.NoError(t, f.engine.AddDocument(index.Document{ID: 9, URL: "http://z", Title: "zebra"}))
	assert.Len(t, f.search(t, "zebra"), 1)

	rec = f.do(t, http.MethodPost, "/api/v1/index/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.search(t, "zebra"), "reload rebuilds from the source")

	rec = f.do(t, http.MethodGet, "/api/v1/index/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats indexer.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Ready)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, "memory", stats.Source)
}

func TestCachedSearch(t *testing.T) {
	f := newFixture(t, scenarioDocs, withCache())

	first := f.search(t, "dogs")
	second := f.search(t, "  DOGS ")
	assert.Equal(t, first, second)

	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	// an added document bumps the generation, so the next search misses
	require.NoError(t, f.engine.AddDocument(index.Document{ID: 3, URL: "http://c", Title: "hot dogs"}))
	assert.Len(t, f.search(t, "dogs"), 3)

	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"invalidated"`)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	f := newFixture(t, scenarioDocs)
	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchesAreTracked(t *testing.T) {
	agg := analytics.NewAggregator()
	f := newFixture(t, scenarioDocs, withCollector(analytics.NewCollector(nil, agg, 10)))

	f.search(t, "dogs")
	f.search(t, "birds")
	f.search(t, "")

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalSearches)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Equal(t, []analytics.QueryCount{{Query: "birds", Count: 1}}, stats.ZeroResultQueries)
}
