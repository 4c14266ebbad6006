package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id    BIGINT PRIMARY KEY,
	url   TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body  TEXT NOT NULL DEFAULT ''
)`

// SQLSource reads the documents table of a PostgreSQL or SQLite database.
type SQLSource struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewSQLSource(db *sql.DB, dialect Dialect) *SQLSource {
	return &SQLSource{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "corpus-sql", "dialect", string(dialect)),
	}
}

// OpenSQLite opens the SQLite database file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite corpus: %w", err)
	}
	return db, nil
}

func (s *SQLSource) Name() string {
	return "sql:" + string(s.dialect)
}

func (s *SQLSource) Documents(ctx context.Context) ([]index.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, url, title, body FROM documents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []index.Document
	for rows.Next() {
		var (
			id  int64
			doc index.Document
		)
		if err := rows.Scan(&id, &doc.URL, &doc.Title, &doc.Body); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		if id <= 0 {
			s.logger.Warn("skipping document with non-positive id", "id", id, "url", doc.URL)
			continue
		}
		doc.ID = index.DocID(id)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	s.logger.Info("corpus table read", "documents", len(docs))
	return docs, nil
}

// Migrate creates the documents table if it does not exist.
func (s *SQLSource) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// Import writes docs into the documents table in one transaction. Rows that
// already exist are left untouched.
func (s *SQLSource) Import(ctx context.Context, docs []index.Document) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insertStatement())
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, d := range docs {
		res, err := stmt.ExecContext(ctx, int64(d.ID), d.URL, d.Title, d.Body)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting document %d: %w", d.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}

func (s *SQLSource) insertStatement() string {
	cols := "INSERT INTO documents (id, url, title, body) VALUES "
	if s.dialect == DialectPostgres {
		return cols + "($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING"
	}
	return cols + "(?, ?, ?, ?) ON CONFLICT (id) DO NOTHING"
}
