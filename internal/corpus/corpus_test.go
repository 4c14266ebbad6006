package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
)

const sampleCorpus = `garbage before the first page
*PAGE:http://a.example
Cats and Dogs
cats
and
dogs
*PAGE:http://empty.example
Nothing Here
*PAGE:http://b.example
Dogs
dogs

only
*PAGE:http://notitle.example
`

func TestParse(t *testing.T) {
	docs, dropped, err := Parse(context.Background(), strings.NewReader(sampleCorpus))
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, docs, 2)

	assert.Equal(t, index.Document{ID: 1, URL: "http://a.example", Title: "Cats and Dogs", Body: "cats and dogs"}, docs[0])
	assert.Equal(t, index.Document{ID: 2, URL: "http://b.example", Title: "Dogs", Body: "dogs only"}, docs[1])
}

func TestParseEmpty(t *testing.T) {
	docs, dropped, err := Parse(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, dropped)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0644))

	src := NewFileSource(path)
	assert.Equal(t, "file:"+path, src.Name())
	docs, err := src.Documents(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.txt")).Documents(context.Background())
	assert.Error(t, err)
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	src, closer, err := Open(config.CorpusConfig{Source: "sqlite", Path: path}, config.PostgresConfig{})
	require.NoError(t, err)
	defer closer.Close()

	sqlSrc := src.(*SQLSource)
	ctx := context.Background()
	require.NoError(t, sqlSrc.Migrate(ctx))

	n, err := sqlSrc.Import(ctx, []index.Document{
		{ID: 2, URL: "http://b", Title: "B", Body: "dogs only"},
		{ID: 1, URL: "http://a", Title: "A", Body: "cats and dogs"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sqlSrc.Import(ctx, []index.Document{{ID: 1, URL: "http://other"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	docs, err := src.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, index.DocID(1), docs[0].ID)
	assert.Equal(t, "http://a", docs[0].URL)
	assert.Equal(t, "dogs only", docs[1].Body)
}

func TestOpenUnknownSource(t *testing.T) {
	_, _, err := Open(config.CorpusConfig{Source: "ftp"}, config.PostgresConfig{})
	assert.Error(t, err)
}

func TestWatchTriggersOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleCorpus), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 50*time.Millisecond, func() { calls.Add(1) })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("y"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(sampleCorpus+"more\n"), 0644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "burst of writes is coalesced")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
