// Package ranker scores documents against query terms. Scorers are pure
// functions of a term's frequency in a document, the document's length, the
// term's document frequency and corpus-wide statistics.
package ranker

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Stats are the corpus-wide figures a scorer may use.
type Stats struct {
	TotalDocs    int
	AvgDocLength float64
}

// Scorer computes one term's contribution to a document's score. For a fixed
// document length and document frequency, a higher tf never yields a lower
// score. docLen is whatever length the caller normalises against; the
// executor passes the length without query-term occurrences.
type Scorer interface {
	Name() string
	Score(tf, docLen, docFreq int, stats Stats) float64
}

// BM25 is Okapi BM25 with the non-negative Lucene IDF.
type BM25 struct {
	K1 float64
	B  float64
}

func NewBM25() BM25 {
	return BM25{K1: DefaultK1, B: DefaultB}
}

func (BM25) Name() string { return "bm25" }

func (s BM25) Score(tf, docLen, docFreq int, stats Stats) float64 {
	if tf <= 0 || docFreq <= 0 {
		return 0
	}
	return IDF(stats.TotalDocs, docFreq) * s.tfNorm(float64(tf), float64(docLen), stats.AvgDocLength)
}

func (s BM25) tfNorm(termFreq, docLength, avgDocLength float64) float64 {
	lengthRatio := 1.0
	if avgDocLength > 0 {
		lengthRatio = docLength / avgDocLength
	}
	denominator := termFreq + s.K1*(1-s.B+s.B*lengthRatio)
	return (termFreq * (s.K1 + 1)) / denominator
}

// IDF is ln(1 + (N - df + 0.5) / (df + 0.5)). It stays positive even for
// terms present in every document.
func IDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

// TFIDF is tf * log10(N / df). A term present in every document contributes
// nothing.
type TFIDF struct{}

func (TFIDF) Name() string { return "tfidf" }

func (TFIDF) Score(tf, _, docFreq int, stats Stats) float64 {
	if tf <= 0 || docFreq <= 0 || stats.TotalDocs <= 0 {
		return 0
	}
	return float64(tf) * math.Log10(float64(stats.TotalDocs)/float64(docFreq))
}

// TF scores by raw term frequency.
type TF struct{}

func (TF) Name() string { return "tf" }

func (TF) Score(tf, _, _ int, _ Stats) float64 {
	if tf <= 0 {
		return 0
	}
	return float64(tf)
}

// ByName returns the scorer configured as name. k1 and b only apply to bm25;
// zero values fall back to the defaults.
func ByName(name string, k1, b float64) (Scorer, error) {
	switch strings.ToLower(name) {
	case "", "bm25":
		s := NewBM25()
		if k1 > 0 {
			s.K1 = k1
		}
		if b > 0 {
			s.B = b
		}
		return s, nil
	case "tfidf":
		return TFIDF{}, nil
	case "tf":
		return TF{}, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}

// Aggregate combines per-term contributions into a document score.
func Aggregate(scores []float64) float64 {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total
}

type ScoredDoc struct {
	DocID index.DocID `json:"doc_id"`
	Score float64     `json:"score"`
}

// Sort orders by descending score, then ascending DocID, so equal scores
// always come out in the same order.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].DocID < docs[j].DocID
	})
}
