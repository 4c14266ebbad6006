package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	database := flag.String("database", "", "corpus path, overrides corpus.path")
	out := flag.String("out", "", "segment output directory, overrides indexer.dataDir")
	publish := flag.Bool("publish", false, "publish the corpus to the ingest topic instead of writing a segment")
	sqliteOut := flag.String("sqlite-out", "", "copy the corpus into this SQLite database instead of writing a segment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *database != "" {
		cfg.Corpus.Path = *database
	}
	if *out != "" {
		cfg.Indexer.DataDir = *out
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closer, err := corpus.Open(cfg.Corpus, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	switch {
	case *publish:
		err = publishCorpus(ctx, cfg, src)
	case *sqliteOut != "":
		err = exportSQLite(ctx, src, *sqliteOut)
	default:
		err = buildSegment(ctx, cfg, src)
	}
	if err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

// buildSegment indexes the whole corpus and writes it as one segment file,
// for searchers to restore at startup.
func buildSegment(ctx context.Context, cfg *config.Config, src corpus.Source) error {
	if cfg.Indexer.DataDir == "" {
		return fmt.Errorf("an output directory is required")
	}
	tok := tokenizer.New(tokenizer.Options{
		Stopwords:      cfg.Tokenizer.Stopwords,
		Stemming:       cfg.Tokenizer.Stemming,
		MinTokenLength: cfg.Tokenizer.MinTokenLength,
	})
	engine, err := indexer.NewEngine(cfg.Indexer, tok, nil)
	if err != nil {
		return err
	}
	if err := engine.Load(ctx, src); err != nil {
		return err
	}
	if err := engine.Flush(); err != nil {
		return err
	}
	paths, err := segment.List(cfg.Indexer.DataDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("corpus %s has no indexable documents", src.Name())
	}
	stats := engine.Stats()
	slog.Info("segment written",
		"segment", paths[len(paths)-1],
		"docs", stats.Documents,
		"terms", stats.Terms,
	)
	return nil
}

func publishCorpus(ctx context.Context, cfg *config.Config, src corpus.Source) error {
	docs, err := src.Documents(ctx)
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()

	published, rejected, err := publisher.New(producer, 0).PublishDocuments(ctx, docs)
	if err != nil {
		return err
	}
	slog.Info("corpus published",
		"topic", producer.Topic(),
		"published", published,
		"rejected", rejected,
	)
	return nil
}

func exportSQLite(ctx context.Context, src corpus.Source, path string) error {
	docs, err := src.Documents(ctx)
	if err != nil {
		return err
	}
	db, err := corpus.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	dst := corpus.NewSQLSource(db, corpus.DialectSQLite)
	if err := dst.Migrate(ctx); err != nil {
		return err
	}
	inserted, err := dst.Import(ctx, docs)
	if err != nil {
		return err
	}
	slog.Info("corpus exported", "path", path, "docs", len(docs), "inserted", inserted)
	return nil
}
