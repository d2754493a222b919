// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	db "github.com/markdave123-py/docpipe/internal/core/database"
	"github.com/markdave123-py/docpipe/internal/core/ingestion_engine"
	"github.com/markdave123-py/docpipe/internal/core/llm"
	objectclient "github.com/markdave123-py/docpipe/internal/core/object-client"
	"github.com/markdave123-py/docpipe/internal/metrics"
	"github.com/markdave123-py/docpipe/internal/queue"
	"github.com/markdave123-py/docpipe/internal/services"
	"github.com/markdave123-py/docpipe/internal/worker"
)

const (
	startupTimeout  = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// App owns every client of one process. Nothing is created lazily; Close
// releases what NewApp opened.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	DB       *sql.DB
	Docs     *db.DatabaseClient
	Vectors  *db.PgVectorStore
	Objects  *objectclient.S3Client
	Embedder core.EmbeddingProvider
	Redis    *redis.Client

	IngestQueue   *queue.Client
	ResponseQueue *queue.Client

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	a := &App{Config: cfg, Metrics: metrics.New()}
	if err := a.open(appCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	sqlDB, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	a.DB = sqlDB
	a.closers = append(a.closers, sqlDB.Close)
	a.Docs = db.NewDatabaseClient(sqlDB)
	a.Vectors = db.NewPgVectorStore(sqlDB)
	log.Println("Database initialized and ready.")

	objClient, err := objectclient.NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	a.Objects = objClient
	log.Println("Object client initialized and ready.")

	emb, closeEmb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.Embedder = emb
	if closeEmb != nil {
		a.closers = append(a.closers, closeEmb)
	}
	log.Printf("Embedder %q ready (%d dimensions).", cfg.EmbedProvider, emb.Dimensions())

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, a.Redis.Close)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	qlog := log.New(log.Writer(), "[QUEUE] ", log.LstdFlags)
	a.IngestQueue, err = queue.New(a.Redis, queue.Options{
		Stream:       cfg.IngestStream,
		Group:        cfg.ConsumerGroup,
		Consumer:     cfg.ConsumerName,
		Policy:       retryPolicy(cfg),
		ClaimMinIdle: cfg.ClaimMinIdle,
		Logger:       qlog,
		Metrics:      a.Metrics,
	})
	if err != nil {
		return err
	}
	a.ResponseQueue, err = queue.New(a.Redis, queue.Options{
		Stream: cfg.ResponseStream,
		Logger: qlog,
	})
	if err != nil {
		return err
	}
	log.Println("Queue client initialized and ready.")
	return nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("App: close: %v", err)
		}
	}
	a.closers = nil
}

// RunAPI serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) RunAPI(ctx context.Context) error {
	cfg := a.Config
	rlog := log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)

	docs := services.NewDocumentService(a.Docs, a.Vectors, a.Objects, a.IngestQueue,
		log.New(log.Writer(), "[INGEST] ", log.LstdFlags))
	retrieval := services.NewRetrievalService(a.Embedder, a.Vectors, cfg.RetrievalTopK, rlog, a.Metrics)
	dispatcher := services.NewResponseDispatcher(retrieval, a.ResponseQueue, rlog)

	srv := NewServer(cfg, ServerDeps{
		Documents:  docs,
		Retrieval:  retrieval,
		Dispatcher: dispatcher,
		Metrics:    a.Metrics,
		Ping:       a.ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// RunWorker consumes ingestion jobs one at a time and sweeps stale documents
// until ctx is cancelled. An in-flight batch finishes before it returns.
func (a *App) RunWorker(ctx context.Context) error {
	cfg := a.Config
	wlog := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

	ingestor, err := ingestion_engine.NewDocumentIngestor(
		a.Docs, a.Vectors, a.Objects, a.Embedder,
		ingestion_engine.NewDocconvExtractor(false),
		ingestion_engine.IngestConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
		},
		ingestion_engine.WithLogger(log.New(log.Writer(), "[INGEST] ", log.LstdFlags)),
		ingestion_engine.WithMetrics(a.Metrics),
	)
	if err != nil {
		return err
	}

	proc := worker.NewProcessor(ingestor, a.Docs, worker.Options{
		Attempts:   cfg.RetryAttempts,
		JobTimeout: cfg.JobTimeout,
		Logger:     wlog,
		Metrics:    a.Metrics,
	})
	sweeper := worker.NewSweeper(a.Docs, cfg.SweepInterval, cfg.StaleProcessingAfter, wlog, a.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.IngestQueue.Consume(gctx, proc) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.WorkerMetricsAddr != "" {
		ms := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: a.Metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			wlog.Printf("Worker: metrics on %s", cfg.WorkerMetricsAddr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}

	wlog.Printf("Worker: %s consuming %s", cfg.ConsumerName, cfg.IngestStream)
	err = g.Wait()
	wlog.Println("Worker: stopped")
	return err
}

func (a *App) ping(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func retryPolicy(cfg *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		Attempts:     cfg.RetryAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
		MaxDelay:     cfg.RetryMaxDelay,
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, func() error, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		g, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim, cfg.EmbedMaxBatch)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "http", "":
		h, err := llm.NewHTTPEmbedder(llm.HTTPEmbedderConfig{
			URL:        cfg.EmbedURL,
			APIKey:     cfg.EmbedAPIKey,
			Dimensions: cfg.EmbedDim,
			MaxBatch:   cfg.EmbedMaxBatch,
		})
		if err != nil {
			return nil, nil, err
		}
		return h, nil, nil
	}
	return nil, nil, core.E(core.KindConfig, "app.embedder", fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider))
}
