// Package corpus provides the upstream document sources the index is built
// from: the flat-file page database, and SQL tables in PostgreSQL or SQLite.
package corpus

import (
	"context"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/postgres"
)

// Source yields every document of a corpus. Documents carry stable IDs; a
// source never returns two documents with the same ID.
type Source interface {
	Name() string
	Documents(ctx context.Context) ([]index.Document, error)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the Source named by cfg.Source. The returned Closer releases
// any database connection the source holds.
func Open(cfg config.CorpusConfig, pg config.PostgresConfig) (Source, io.Closer, error) {
	switch cfg.Source {
	case "file":
		return NewFileSource(cfg.Path), nopCloser{}, nil
	case "sqlite":
		db, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLSource(db, DialectSQLite), db, nil
	case "postgres":
		client, err := postgres.New(pg)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLSource(client.DB, DialectPostgres), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown corpus source %q", cfg.Source)
	}
}
