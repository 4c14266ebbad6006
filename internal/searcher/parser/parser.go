// Package parser turns free-text queries into query plans. Parsing never
// fails: anything that is not an operator is treated as text and words that
// normalise to nothing are dropped.
package parser

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
)

// Mode says how the terms of one group combine.
type Mode int

const (
	// MatchAny accepts documents containing at least one term of the group.
	MatchAny Mode = iota
	// MatchAll accepts only documents containing every term of the group.
	MatchAll
)

func (m Mode) String() string {
	if m == MatchAll {
		return "and"
	}
	return "or"
}

// ParseMode reads the configured match mode ("or" or "and").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or":
		return MatchAny, nil
	case "and":
		return MatchAll, nil
	default:
		return MatchAny, fmt.Errorf("unknown match mode %q", s)
	}
}

type Term struct {
	Text   string
	Prefix bool
}

// Key identifies the term in statistics and cache keys.
func (t Term) Key() string {
	if t.Prefix {
		return t.Text + "*"
	}
	return t.Text
}

type Group struct {
	Terms []Term
	Mode  Mode
}

// QueryPlan is the parsed form of a query. A document matches when it
// matches any group, contains no excluded term and, if Sites is non-empty,
// has a URL containing one of the site fragments.
type QueryPlan struct {
	RawQuery     string
	Groups       []Group
	ExcludeTerms []string
	Sites        []string
}

// Empty reports whether the plan can match nothing because it has no
// positive terms.
func (p *QueryPlan) Empty() bool {
	return len(p.Groups) == 0
}

// Canonical renders the plan in a normalised form, so queries that differ
// only in case, spacing or stop-words share it.
func (p *QueryPlan) Canonical() string {
	var b strings.Builder
	for i, g := range p.Groups {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString(g.Mode.String())
		b.WriteByte('(')
		for j, t := range g.Terms {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.Key())
		}
		b.WriteByte(')')
	}
	for _, t := range p.ExcludeTerms {
		b.WriteString(" -")
		b.WriteString(t)
	}
	for _, s := range p.Sites {
		b.WriteString(" site:")
		b.WriteString(s)
	}
	return b.String()
}

// Parse builds a plan from query. An upper-case OR splits the query into
// groups whose terms are all required; without one, the whole query is a
// single group combined with defaultMode. "-word" and "NOT word" exclude,
// "word*" matches by prefix and "site:fragment" filters by URL.
func Parse(query string, tok *tokenizer.Tokenizer, defaultMode Mode) *QueryPlan {
	plan := &QueryPlan{
		RawQuery:     query,
		Groups:       make([]Group, 0, 1),
		ExcludeTerms: make([]string, 0),
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}

	var (
		groups      [][]Term
		current     []Term
		explicitOr  bool
		excludeNext bool
	)
	for _, word := range strings.Fields(query) {
		switch word {
		case "OR":
			explicitOr = true
			groups = append(groups, current)
			current = nil
			excludeNext = false
			continue
		case "NOT":
			excludeNext = true
			continue
		case "AND":
			continue
		}

		if fragment, ok := cutSite(word); ok {
			if fragment != "" {
				plan.Sites = appendUnique(plan.Sites, fragment)
			}
			continue
		}

		exclude := excludeNext
		excludeNext = false
		if len(word) > 1 && word[0] == '-' {
			exclude = true
			word = word[1:]
		}

		if exclude {
			for _, term := range tok.Terms(strings.TrimRight(word, "*")) {
				plan.ExcludeTerms = appendUnique(plan.ExcludeTerms, term)
			}
			continue
		}

		if len(word) > 1 && strings.HasSuffix(word, "*") {
			if prefix := tok.NormalizePrefix(strings.TrimRight(word, "*")); prefix != "" {
				current = append(current, Term{Text: prefix, Prefix: true})
			}
			continue
		}
		for _, term := range tok.Terms(word) {
			current = append(current, Term{Text: term})
		}
	}
	groups = append(groups, current)

	mode := defaultMode
	if explicitOr {
		mode = MatchAll
	}
	for _, terms := range groups {
		terms = dedupe(terms)
		if len(terms) == 0 {
			continue
		}
		plan.Groups = append(plan.Groups, Group{Terms: terms, Mode: mode})
	}
	return plan
}

func cutSite(word string) (string, bool) {
	const prefix = "site:"
	if len(word) < len(prefix) || !strings.EqualFold(word[:len(prefix)], prefix) {
		return "", false
	}
	return strings.ToLower(word[len(prefix):]), true
}

func dedupe(terms []Term) []Term {
	seen := make(map[Term]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
