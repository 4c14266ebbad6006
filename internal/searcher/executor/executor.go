// Package executor evaluates query plans against the live inverted index and
// returns ranked results.
package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/logger"
)

// checkEvery is how many candidates are processed between context checks.
const checkEvery = 1024

// IndexProvider hands out the current index, or ErrIndexUnavailable.
type IndexProvider interface {
	Index() (*index.MemoryIndex, error)
}

type ScoredResult struct {
	DocID index.DocID `json:"doc_id"`
	URL   string      `json:"url"`
	Title string      `json:"title"`
	Score float64     `json:"score"`
}

type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []ScoredResult `json:"results"`
	TermStats map[string]int `json:"term_stats"`
}

func emptyResult(query string) *SearchResult {
	return &SearchResult{
		Query:     query,
		Results:   []ScoredResult{},
		TermStats: map[string]int{},
	}
}

type Executor struct {
	indexes IndexProvider
	scorer  ranker.Scorer
	mode    parser.Mode
	logger  *slog.Logger
}

func New(indexes IndexProvider, scorer ranker.Scorer, mode parser.Mode) *Executor {
	return &Executor{
		indexes: indexes,
		scorer:  scorer,
		mode:    mode,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

func (e *Executor) Mode() parser.Mode {
	return e.mode
}

func (e *Executor) Scorer() ranker.Scorer {
	return e.scorer
}

// Search parses query with the index's tokenizer and executes it. A blank
// query yields an empty result without touching the index.
func (e *Executor) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return emptyResult(query), nil
	}
	mi, err := e.indexes.Index()
	if err != nil {
		return nil, err
	}
	plan := parser.Parse(query, mi.Tokenizer(), e.mode)
	return e.execute(ctx, mi, plan, limit)
}

// Execute runs a parsed plan. Results are ordered by descending score and
// ascending DocID; TotalHits counts every match even when limit truncates
// Results. A limit of zero or less returns all matches.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	if plan.Empty() {
		return emptyResult(plan.RawQuery), nil
	}
	mi, err := e.indexes.Index()
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, mi, plan, limit)
}

func (e *Executor) execute(ctx context.Context, mi *index.MemoryIndex, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	if plan.Empty() {
		return emptyResult(plan.RawQuery), nil
	}
	result := emptyResult(plan.RawQuery)
	err := mi.View(func(v index.View) error {
		q := &query{
			ctx:    ctx,
			view:   v,
			scorer: e.scorer,
			stats: ranker.Stats{
				TotalDocs:    v.TotalDocuments(),
				AvgDocLength: v.AverageDocumentLength(),
			},
			stemmed:   mi.Tokenizer().Options().Stemming,
			termStats: result.TermStats,
		}
		best, err := q.match(plan)
		if err != nil {
			return err
		}

		ranked := make([]ranker.ScoredDoc, 0, len(best))
		for docID, score := range best {
			ranked = append(ranked, ranker.ScoredDoc{DocID: docID, Score: score})
		}
		ranker.Sort(ranked)
		result.TotalHits = len(ranked)
		if limit > 0 && len(ranked) > limit {
			ranked = ranked[:limit]
		}
		result.Results = make([]ScoredResult, 0, len(ranked))
		for _, r := range ranked {
			doc, _ := v.Document(r.DocID)
			result.Results = append(result.Results, ScoredResult{
				DocID: r.DocID,
				URL:   doc.URL,
				Title: doc.Title,
				Score: r.Score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("query executed",
		"component", "query-executor",
		"query", plan.RawQuery,
		"groups", len(plan.Groups),
		"total_hits", result.TotalHits,
		"results", len(result.Results),
	)
	return result, nil
}

// stemPrefixMinLen is the shortest dictionary stem a prefix query may fall
// back to.
const stemPrefixMinLen = 3

// query holds the per-search state while the index read lock is held.
type query struct {
	ctx       context.Context
	view      index.View
	scorer    ranker.Scorer
	stats     ranker.Stats
	stemmed   bool
	termStats map[string]int
	processed int

	// expansions maps each plan term to the dictionary terms it matches.
	expansions map[string][]string
	// queryFreq is, per document, the total frequency of every dictionary
	// term the plan matches. It is left out of the length used for
	// normalisation, so an extra occurrence of a query term never shrinks
	// the contribution of the other terms.
	queryFreq map[index.DocID]int
}

func (q *query) tick() error {
	q.processed++
	if q.processed%checkEvery == 0 {
		return q.ctx.Err()
	}
	return nil
}

// match returns the best group score of every document that survives
// exclusion and site filtering.
func (q *query) match(plan *parser.QueryPlan) (map[index.DocID]float64, error) {
	if err := q.expand(plan); err != nil {
		return nil, err
	}
	best := make(map[index.DocID]float64)
	for _, group := range plan.Groups {
		scores, err := q.scoreGroup(group)
		if err != nil {
			return nil, err
		}
		for docID, score := range scores {
			if prev, ok := best[docID]; !ok || score > prev {
				best[docID] = score
			}
		}
	}

	for _, term := range plan.ExcludeTerms {
		if err := q.ctx.Err(); err != nil {
			return nil, err
		}
		for _, p := range q.view.Postings(term) {
			delete(best, p.DocID)
		}
	}

	if len(plan.Sites) > 0 {
		for docID := range best {
			if err := q.tick(); err != nil {
				return nil, err
			}
			doc, _ := q.view.Document(docID)
			if !matchesSite(doc.URL, plan.Sites) {
				delete(best, docID)
			}
		}
	}
	return best, nil
}

// expand resolves every plan term to dictionary terms and sums, per
// document, the frequencies of the distinct dictionary terms matched.
func (q *query) expand(plan *parser.QueryPlan) error {
	q.expansions = make(map[string][]string)
	q.queryFreq = make(map[index.DocID]int)
	seen := make(map[string]struct{})
	for _, group := range plan.Groups {
		for _, term := range group.Terms {
			key := term.Key()
			if _, ok := q.expansions[key]; ok {
				continue
			}
			texts := q.dictionaryTerms(term)
			q.expansions[key] = texts
			for _, text := range texts {
				if _, ok := seen[text]; ok {
					continue
				}
				seen[text] = struct{}{}
				for _, p := range q.view.Postings(text) {
					if err := q.tick(); err != nil {
						return err
					}
					q.queryFreq[p.DocID] += p.Frequency
				}
			}
		}
	}
	return nil
}

// dictionaryTerms lists the indexed terms a plan term matches. A prefix
// matches every term starting with it; with stemming on it also matches the
// stems that are shorter than the prefix itself, since "cats" and "running"
// are indexed as "cat" and "run".
func (q *query) dictionaryTerms(term parser.Term) []string {
	if !term.Prefix {
		return []string{term.Text}
	}
	texts := q.view.TermsWithPrefix(term.Text)
	if q.stemmed {
		texts = append(texts, q.view.TermsPrefixOf(term.Text, stemPrefixMinLen)...)
	}
	return texts
}

// scoreGroup sums term contributions per document. In MatchAll mode only
// documents that contain every term of the group are kept.
func (q *query) scoreGroup(group parser.Group) (map[index.DocID]float64, error) {
	scores := make(map[index.DocID]float64)
	matched := make(map[index.DocID]int)
	for _, term := range group.Terms {
		if err := q.ctx.Err(); err != nil {
			return nil, err
		}
		contrib, err := q.termContributions(q.expansions[term.Key()])
		if err != nil {
			return nil, err
		}
		q.termStats[term.Key()] = len(contrib)
		for docID, c := range contrib {
			scores[docID] += c
			matched[docID]++
		}
	}
	if group.Mode == parser.MatchAll {
		for docID, n := range matched {
			if n < len(group.Terms) {
				delete(scores, docID)
			}
		}
	}
	return scores, nil
}

// termContributions scores one plan term, given its dictionary terms, in
// every document containing any of them. A prefix term contributes, per
// document, the best score of any term it expands to.
func (q *query) termContributions(texts []string) (map[index.DocID]float64, error) {
	contrib := make(map[index.DocID]float64)
	for _, text := range texts {
		postings := q.view.Postings(text)
		docFreq := len(postings)
		for _, p := range postings {
			if err := q.tick(); err != nil {
				return nil, err
			}
			score := q.scorer.Score(p.Frequency, q.normLength(p.DocID), docFreq, q.stats)
			if prev, ok := contrib[p.DocID]; !ok || score > prev {
				contrib[p.DocID] = score
			}
		}
	}
	return contrib, nil
}

// normLength is the document length counted without query-term occurrences.
func (q *query) normLength(docID index.DocID) int {
	n := q.view.DocLength(docID) - q.queryFreq[docID]
	if n < 0 {
		return 0
	}
	return n
}

func matchesSite(url string, sites []string) bool {
	lower := strings.ToLower(url)
	for _, s := range sites {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
