package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/websearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/tracing"
)

// watchDebounce coalesces bursts of writes to the corpus file.
const watchDebounce = 2 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	database := flag.String("database", "", "corpus path, overrides corpus.path")
	port := flag.Int("port", 0, "HTTP port, overrides server.port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *database != "" {
		cfg.Corpus.Path = *database
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"corpus", cfg.Corpus.Source,
		"scorer", cfg.Search.Scorer,
		"match_mode", cfg.Search.MatchMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	tok := tokenizer.New(tokenizer.Options{
		Stopwords:      cfg.Tokenizer.Stopwords,
		Stemming:       cfg.Tokenizer.Stemming,
		MinTokenLength: cfg.Tokenizer.MinTokenLength,
	})
	engine, err := indexer.NewEngine(cfg.Indexer, tok, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("closing index", "error", err)
		}
	}()

	scorer, err := ranker.ByName(cfg.Search.Scorer, cfg.Search.BM25K1, cfg.Search.BM25B)
	if err != nil {
		return err
	}
	mode, err := parser.ParseMode(cfg.Search.MatchMode)
	if err != nil {
		return err
	}
	exec := executor.New(engine, scorer, mode)

	var src corpus.Source
	var srcCloser io.Closer
	err = resilience.Retry(ctx, "corpus-open", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: time.Second}, func(context.Context) error {
		src, srcCloser, err = corpus.Open(cfg.Corpus, cfg.Postgres)
		return err
	})
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer srcCloser.Close()

	checker := health.NewChecker()
	checker.Register("index", health.ReadyFunc(engine.Ready, "index not loaded"))
	if p, ok := srcCloser.(health.Pinger); ok {
		checker.Register("postgres", health.PingCheck(p, false))
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var publisher analytics.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer
	}
	aggregator := analytics.NewAggregator()
	collector := analytics.NewCollector(publisher, aggregator, 10000)

	h := handler.New(handler.Deps{
		Index:     engine,
		Executor:  exec,
		Cache:     queryCache,
		Collector: collector,
		Metrics:   m,
		Tracer:    tracing.New(cfg.Tracing.Enabled),
	}, handler.Limits{
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxResults:    cfg.Search.MaxResults,
		SearchTimeout: cfg.Search.Timeout,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return collector.Run(gctx)
	})
	g.Go(func() error {
		if err := loadIndex(gctx, cfg, engine, src); err != nil {
			return err
		}
		engine.StartFlushLoop(gctx)
		return nil
	})

	if cfg.Kafka.Enabled {
		ingest := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, consumer.HandleMessage(engine, m)))
		g.Go(func() error {
			return ingest.Start(gctx)
		})
	}

	if cfg.Corpus.Watch && cfg.Corpus.Source != "postgres" {
		reloads := make(chan struct{}, 1)
		g.Go(func() error {
			return corpus.Watch(gctx, cfg.Corpus.Path, watchDebounce, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-reloads:
					slog.Info("corpus changed, rebuilding index", "path", cfg.Corpus.Path)
					if err := engine.Reload(gctx); err != nil && gctx.Err() == nil {
						slog.Error("reindex after corpus change failed", "error", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// loadIndex restores the newest snapshot if there is one, and otherwise
// builds the index from the corpus, retrying transient source failures.
func loadIndex(ctx context.Context, cfg *config.Config, engine *indexer.Engine, src corpus.Source) error {
	restored, err := engine.LoadSnapshot()
	if err != nil {
		slog.Warn("listing index snapshots failed", "error", err)
	}
	if restored {
		engine.SetSource(src)
		return nil
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
	err = resilience.Retry(ctx, "corpus-load", retryCfg, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, cfg.Corpus.LoadTimeout, "corpus-load", func(ctx context.Context) error {
			return engine.Load(ctx, src)
		})
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
