package parser

import "testing"

func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "distributed systems"},
		{"boolean_or", "indexing OR caching OR ranking"},
		{"with_not", "distributed NOT monolithic"},
		{"prefix_site", "program* site:wikipedia.org -java"},
		{"long", "distributed search analytics platform indexing query processing ranking caching sharding"},
	}
	tk := tok()
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Parse(q.query, tk, MatchAny)
			}
		})
	}
}
