package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
)

// MemoryIndex is an inverted index held entirely in memory. Many readers may
// query it concurrently; AddDocument takes the write lock only to apply
// postings that were computed beforehand.
type MemoryIndex struct {
	mu          sync.RWMutex
	tok         *tokenizer.Tokenizer
	postings    map[string]PostingList
	docs        map[DocID]DocEntry
	totalTokens int64
	size        int64

	// terms is the dictionary, sorted lazily for prefix scans. It is only
	// touched with mu held; dictMu serialises concurrent readers sorting it.
	dictMu    sync.Mutex
	terms     []string
	dictDirty bool
}

func NewMemoryIndex(tok *tokenizer.Tokenizer) *MemoryIndex {
	return &MemoryIndex{
		tok:      tok,
		postings: make(map[string]PostingList),
		docs:     make(map[DocID]DocEntry),
	}
}

func (m *MemoryIndex) Tokenizer() *tokenizer.Tokenizer {
	return m.tok
}

// AddDocument indexes doc. A document whose ID is already present is
// rejected with ErrDuplicateDocument and the index is left unchanged.
func (m *MemoryIndex) AddDocument(doc Document) error {
	tokens := m.tok.Tokenize(doc.Text())

	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     doc.ID,
				Frequency: 0,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[doc.ID]; exists {
		return fmt.Errorf("adding document %d: %w", doc.ID, apperrors.ErrDuplicateDocument)
	}
	for term, posting := range termData {
		list, exists := m.postings[term]
		if !exists {
			m.terms = append(m.terms, term)
			m.dictDirty = true
		}
		m.postings[term] = insertPosting(list, *posting)
		m.size += int64(len(term) + len(posting.Positions)*8 + 64)
	}
	m.docs[doc.ID] = DocEntry{Document: doc, Length: len(tokens)}
	m.totalTokens += int64(len(tokens))
	m.size += int64(len(doc.URL) + len(doc.Title) + len(doc.Body) + 64)
	return nil
}

// insertPosting keeps list ordered by DocID. IDs usually arrive in
// ascending order, so the append path is the common one.
func insertPosting(list PostingList, p Posting) PostingList {
	n := len(list)
	if n == 0 || list[n-1].DocID < p.DocID {
		return append(list, p)
	}
	i := sort.Search(n, func(i int) bool { return list[i].DocID >= p.DocID })
	list = append(list, Posting{})
	copy(list[i+1:], list[i:])
	list[i] = p
	return list
}

// Postings returns a copy of the posting list for term, empty if the term
// was never seen.
func (m *MemoryIndex) Postings(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.postings[term]
	result := make(PostingList, len(src))
	copy(result, src)
	return result
}

func (m *MemoryIndex) DocumentFrequency(term string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings[term])
}

func (m *MemoryIndex) TotalDocuments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) AverageDocumentLength() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avgDocLength()
}

func (m *MemoryIndex) Document(id DocID) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[id]
	return entry.Document, ok
}

func (m *MemoryIndex) DocLength(id DocID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[id].Length
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}

func (m *MemoryIndex) TermsWithPrefix(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.termsWithPrefix(prefix)
}

// Size is a rough estimate of the heap held by the index, in bytes.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) avgDocLength() float64 {
	if len(m.docs) == 0 {
		return 0
	}
	return float64(m.totalTokens) / float64(len(m.docs))
}

func (m *MemoryIndex) sortedTerms() []string {
	m.dictMu.Lock()
	defer m.dictMu.Unlock()
	if m.dictDirty {
		sort.Strings(m.terms)
		m.dictDirty = false
	}
	return m.terms
}

func (m *MemoryIndex) termsWithPrefix(prefix string) []string {
	terms := m.sortedTerms()
	start := sort.SearchStrings(terms, prefix)
	var result []string
	for i := start; i < len(terms) && strings.HasPrefix(terms[i], prefix); i++ {
		result = append(result, terms[i])
	}
	return result
}

// TermsPrefixOf returns the dictionary terms, at least minLen runes long,
// that are proper prefixes of word, shortest first. With stemming on, these
// are the stems of words that start with word ("run" for "runn").
func (m *MemoryIndex) TermsPrefixOf(word string, minLen int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.termsPrefixOf(word, minLen)
}

func (m *MemoryIndex) termsPrefixOf(word string, minLen int) []string {
	var result []string
	runes := 0
	for i := range word {
		if i > 0 && runes >= minLen {
			if _, ok := m.postings[word[:i]]; ok {
				result = append(result, word[:i])
			}
		}
		runes++
	}
	return result
}

// View runs fn with the read lock held, so everything fn reads comes from one
// consistent state of the index. Writers wait until fn returns.
func (m *MemoryIndex) View(fn func(v View) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(View{m: m})
}

// View is a read-only handle valid only inside MemoryIndex.View. Slices it
// returns alias index memory and must not be modified or retained.
type View struct {
	m *MemoryIndex
}

func (v View) Postings(term string) PostingList {
	return v.m.postings[term]
}

func (v View) DocumentFrequency(term string) int {
	return len(v.m.postings[term])
}

func (v View) TotalDocuments() int {
	return len(v.m.docs)
}

func (v View) AverageDocumentLength() float64 {
	return v.m.avgDocLength()
}

func (v View) Document(id DocID) (Document, bool) {
	entry, ok := v.m.docs[id]
	return entry.Document, ok
}

func (v View) DocLength(id DocID) int {
	return v.m.docs[id].Length
}

func (v View) TermsWithPrefix(prefix string) []string {
	return v.m.termsWithPrefix(prefix)
}

func (v View) TermsPrefixOf(word string, minLen int) []string {
	return v.m.termsPrefixOf(word, minLen)
}

// Snapshot returns every term with a copy of its postings, sorted by term.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.postings))
	for _, term := range m.sortedTerms() {
		src := m.postings[term]
		postings := make(PostingList, len(src))
		copy(postings, src)
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	return entries
}

// Documents returns the document table sorted by ID.
func (m *MemoryIndex) Documents() []DocEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]DocEntry, 0, len(m.docs))
	for _, entry := range m.docs {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Restore rebuilds an index from a persisted document table and term
// entries. It verifies that every posting list is strictly ordered and only
// references known documents.
func Restore(tok *tokenizer.Tokenizer, docs []DocEntry, entries []TermEntry) (*MemoryIndex, error) {
	m := NewMemoryIndex(tok)
	for _, entry := range docs {
		if _, exists := m.docs[entry.ID]; exists {
			return nil, fmt.Errorf("restoring document %d: %w", entry.ID, apperrors.ErrDuplicateDocument)
		}
		m.docs[entry.ID] = entry
		m.totalTokens += int64(entry.Length)
		m.size += int64(len(entry.URL) + len(entry.Title) + len(entry.Body) + 64)
	}
	m.terms = make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, exists := m.postings[entry.Term]; exists {
			return nil, fmt.Errorf("restoring term %q: duplicate dictionary entry", entry.Term)
		}
		for i, p := range entry.Postings {
			if i > 0 && entry.Postings[i-1].DocID >= p.DocID {
				return nil, fmt.Errorf("restoring term %q: postings not strictly ordered at %d", entry.Term, i)
			}
			if _, ok := m.docs[p.DocID]; !ok {
				return nil, fmt.Errorf("restoring term %q: unknown document %d", entry.Term, p.DocID)
			}
			m.size += int64(len(p.Positions)*8 + 64)
		}
		m.postings[entry.Term] = entry.Postings
		m.terms = append(m.terms, entry.Term)
		m.size += int64(len(entry.Term))
	}
	m.dictDirty = true
	return m, nil
}
