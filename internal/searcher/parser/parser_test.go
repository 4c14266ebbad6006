package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
)

func tok() *tokenizer.Tokenizer {
	return tokenizer.New(tokenizer.DefaultOptions())
}

func terms(texts ...string) []Term {
	out := make([]Term, len(texts))
	for i, t := range texts {
		out[i] = Term{Text: t}
	}
	return out
}

func TestParseEmpty(t *testing.T) {
	for _, q := range []string{"", "   ", "the and of", "!!! ???"} {
		plan := Parse(q, tok(), MatchAny)
		assert.True(t, plan.Empty(), "query %q", q)
		assert.Equal(t, q, plan.RawQuery)
	}
}

func TestParseSingleGroupUsesDefaultMode(t *testing.T) {
	plan := Parse("Cats dogs", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, MatchAny, plan.Groups[0].Mode)
	assert.Equal(t, terms("cat", "dog"), plan.Groups[0].Terms)

	plan = Parse("cats dogs", tok(), MatchAll)
	assert.Equal(t, MatchAll, plan.Groups[0].Mode)
}

func TestParseDeduplicatesTerms(t *testing.T) {
	plan := Parse("cat cats CAT", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, terms("cat"), plan.Groups[0].Terms)
}

func TestParseOrGroups(t *testing.T) {
	plan := Parse("cats dogs OR birds", tok(), MatchAny)
	require.Len(t, plan.Groups, 2)
	assert.Equal(t, Group{Terms: terms("cat", "dog"), Mode: MatchAll}, plan.Groups[0])
	assert.Equal(t, Group{Terms: terms("bird"), Mode: MatchAll}, plan.Groups[1])
}

func TestParseLowercaseOrIsAWord(t *testing.T) {
	plan := Parse("cats or dogs", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	// "or" is a stop-word and disappears
	assert.Equal(t, terms("cat", "dog"), plan.Groups[0].Terms)
}

func TestParseEmptyGroupsDropped(t *testing.T) {
	plan := Parse("OR cats OR OR the", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, terms("cat"), plan.Groups[0].Terms)
}

func TestParseExclusions(t *testing.T) {
	plan := Parse("dogs -cats NOT birds", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, terms("dog"), plan.Groups[0].Terms)
	assert.Equal(t, []string{"cat", "bird"}, plan.ExcludeTerms)

	plan = Parse("-cats", tok(), MatchAny)
	assert.True(t, plan.Empty())
	assert.Equal(t, []string{"cat"}, plan.ExcludeTerms)
}

func TestParsePrefix(t *testing.T) {
	plan := Parse("Flo* garden", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, []Term{{Text: "flo", Prefix: true}, {Text: "garden"}}, plan.Groups[0].Terms)

	plan = Parse("*", tok(), MatchAny)
	assert.True(t, plan.Empty())
}

func TestParseSite(t *testing.T) {
	plan := Parse("dogs site:Example.ORG SITE:wiki", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, terms("dog"), plan.Groups[0].Terms)
	assert.Equal(t, []string{"example.org", "wiki"}, plan.Sites)
}

func TestParseHyphenatedWordSplits(t *testing.T) {
	plan := Parse("go-lang", tok(), MatchAny)
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, terms("go", "lang"), plan.Groups[0].Terms)
}

func TestCanonical(t *testing.T) {
	a := Parse("  Cats   DOGS  ", tok(), MatchAny)
	b := Parse("the cats dogs", tok(), MatchAny)
	assert.Equal(t, a.Canonical(), b.Canonical())

	c := Parse("cats OR dogs -birds site:x flo*", tok(), MatchAny)
	assert.Equal(t, "and(cat) OR and(dog flo*) -bird site:x", c.Canonical())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("AND")
	require.NoError(t, err)
	assert.Equal(t, MatchAll, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchAny, m)
	_, err = ParseMode("xor")
	assert.Error(t, err)
}
