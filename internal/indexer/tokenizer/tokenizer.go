// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input, folds diacritics, splits on non-alphanumeric
// boundaries, and optionally removes stop-words and applies the Snowball
// English stemmer. Documents and queries must go through the same Tokenizer.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Options selects the optional normalisation steps.
type Options struct {
	Stopwords      bool
	Stemming       bool
	MinTokenLength int
}

// DefaultOptions enables stop-word removal and stemming.
func DefaultOptions() Options {
	return Options{Stopwords: true, Stemming: true, MinTokenLength: 1}
}

// Tokenizer is safe for concurrent use.
type Tokenizer struct {
	opts Options
}

func New(opts Options) *Tokenizer {
	if opts.MinTokenLength < 1 {
		opts.MinTokenLength = 1
	}
	return &Tokenizer{opts: opts}
}

func (t *Tokenizer) Options() Options {
	return t.opts
}

// Tokenize breaks text into normalised Tokens. Empty input yields an empty,
// non-nil slice.
func (t *Tokenizer) Tokenize(text string) []Token {
	words := split(fold(text))
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		term, ok := t.normalize(word)
		if !ok {
			continue
		}
		tokens = append(tokens, Token{
			Term:     term,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms returns only the term strings of Tokenize.
func (t *Tokenizer) Terms(text string) []string {
	tokens := t.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

// NormalizePrefix folds and lower-cases a prefix without stemming or
// stop-word removal, so "flo" still matches "flower".
func (t *Tokenizer) NormalizePrefix(prefix string) string {
	return strings.Join(split(fold(prefix)), "")
}

func (t *Tokenizer) normalize(word string) (string, bool) {
	if t.opts.Stopwords && isStopWord(word) {
		return "", false
	}
	term := word
	if t.opts.Stemming {
		term = stem(word)
		// a stem can itself be a stop-word ("hers" -> "her")
		if t.opts.Stopwords && isStopWord(term) {
			return "", false
		}
	}
	if len([]rune(term)) < t.opts.MinTokenLength {
		return "", false
	}
	return term, true
}

// maxStemPasses bounds stem; in practice a fixpoint is reached in two or
// three passes.
const maxStemPasses = 8

// stem applies the Snowball stemmer until the output stops changing, so a
// stemmed term fed back through the tokenizer comes out unchanged
// ("universities" -> "univers" -> "univ").
func stem(word string) string {
	term := word
	for range maxStemPasses {
		next := english.Stem(term, false)
		if next == term {
			break
		}
		term = next
	}
	return term
}

func isStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// fold lower-cases text and strips combining marks ("Café" -> "cafe").
func fold(text string) string {
	text = strings.ToLower(text)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}

func split(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
