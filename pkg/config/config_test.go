package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "or", cfg.Search.MatchMode)
	assert.Equal(t, "bm25", cfg.Search.Scorer)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, "file", cfg.Corpus.Source)
	assert.True(t, cfg.Tokenizer.Stemming)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  readTimeout: 2s
search:
  matchMode: and
  scorer: tfidf
corpus:
  source: sqlite
  path: /tmp/pages.db
redis:
  enabled: true
  cacheTTL: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "and", cfg.Search.MatchMode)
	assert.Equal(t, "tfidf", cfg.Search.Scorer)
	assert.Equal(t, "sqlite", cfg.Corpus.Source)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WS_SERVER_PORT", "8181")
	t.Setenv("WS_SEARCH_MATCH_MODE", "AND")
	t.Setenv("WS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("WS_CORPUS_PATH", "/data/pages.txt")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "and", cfg.Search.MatchMode)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/data/pages.txt", cfg.Corpus.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"match mode", "search:\n  matchMode: xor\n"},
		{"scorer", "search:\n  scorer: pagerank\n"},
		{"source", "corpus:\n  source: s3\n"},
		{"missing path", "corpus:\n  source: file\n  path: \"\"\n"},
		{"limits", "search:\n  defaultLimit: 100\n  maxResults: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
