// Package app assembles the runtime graph from configuration: schema store,
// warehouse, query cache, provider catalog and one pipeline per provider.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/snowchat/snowchat/internal/cache"
	"github.com/snowchat/snowchat/internal/cache/memory"
	cacheobjects "github.com/snowchat/snowchat/internal/cache/objectstore"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/llm/providers"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/query/duckdb"
	"github.com/snowchat/snowchat/internal/query/sqldb"
	"github.com/snowchat/snowchat/internal/retrieval"
	retrievalopenai "github.com/snowchat/snowchat/internal/retrieval/openai"
	"github.com/snowchat/snowchat/internal/retrieval/postgres"
	"github.com/snowchat/snowchat/internal/retrieval/sqlite"
	"github.com/snowchat/snowchat/internal/storage"
	"github.com/snowchat/snowchat/internal/storage/s3"
)

type HealthCheck func(ctx context.Context) error

type warehouse interface {
	query.Engine
	HealthCheck(ctx context.Context) error
	Close() error
}

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Catalog   providers.Catalog
	Retriever *retrieval.Retriever
	// Vectors is nil when retrieval is disabled.
	Vectors   retrieval.VectorStore
	Embedder  retrieval.Embedder
	Executor  *query.Executor
	Assembler *prompt.Assembler
	// SchemaDB is the Postgres schema store handle, used for migrations.
	SchemaDB *sql.DB

	checks    []HealthCheck
	closers   []func() error
	mu        sync.Mutex
	pipelines map[pipelineKey]*pipeline.Pipeline
}

type pipelineKey struct {
	provider string
	stream   bool
}

// Options trims what Build opens, so CLI commands only connect to what they
// use.
type Options struct {
	SkipRetrieval bool
	SkipWarehouse bool
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, pipelines: map[pipelineKey]*pipeline.Pipeline{}}

	catalog, err := providers.Load(cfg.LLM.CatalogPath)
	if err != nil {
		return nil, err
	}
	if _, ok := catalog.Lookup(cfg.LLM.Provider); !ok {
		return nil, fmt.Errorf("default provider %q is not in the catalog", cfg.LLM.Provider)
	}
	for i := range catalog.Providers {
		if catalog.Providers[i].Timeout == 0 {
			catalog.Providers[i].Timeout = cfg.LLM.Timeout
		}
	}
	a.Catalog = catalog

	a.Assembler, err = prompt.NewAssembler(prompt.Options{MaxContextTokens: cfg.Pipeline.MaxContextTokens})
	if err != nil {
		return nil, err
	}

	if !opts.SkipRetrieval {
		if err := a.openRetrieval(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if !opts.SkipWarehouse {
		if err := a.openWarehouse(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openRetrieval(ctx context.Context) error {
	cfg := a.Config.Retrieval
	var store retrieval.VectorStore
	switch cfg.Backend {
	case "none":
		a.Retriever = retrieval.NewRetriever(nil, cfg.TopK)
		return nil
	case "postgres":
		db, err := postgres.Open(ctx, postgres.DBConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		a.SchemaDB = db
		a.closers = append(a.closers, db.Close)
		pgStore := postgres.NewStore(db)
		a.checks = append(a.checks, pgStore.HealthCheck)
		store = pgStore
	case "sqlite":
		liteStore, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, liteStore.Close)
		a.checks = append(a.checks, liteStore.HealthCheck)
		store = liteStore
	default:
		return fmt.Errorf("unsupported retrieval backend %q", cfg.Backend)
	}

	embedder, err := retrievalopenai.NewEmbedder(retrievalopenai.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.EmbeddingTimeout,
	})
	if err != nil {
		return fmt.Errorf("configure embeddings: %w", err)
	}
	a.Vectors = store
	a.Embedder = embedder
	a.Retriever = retrieval.NewRetriever(retrieval.EmbeddingSearcher{Embedder: embedder, Store: store}, cfg.TopK)
	return nil
}

func (a *App) openWarehouse(ctx context.Context) error {
	cfg := a.Config

	var objects storage.ObjectStore
	needObjects := cfg.Cache.Backend == "objectstore" || (cfg.Warehouse.Driver == "duckdb" && cfg.Warehouse.ParquetPrefix != "")
	if needObjects {
		store, err := s3.New(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}
		objects = store
	}

	var engine warehouse
	switch cfg.Warehouse.Driver {
	case "duckdb":
		duck, err := duckdb.Open(ctx, duckdb.Options{Path: cfg.Warehouse.DSN, Store: objects, ParquetPrefix: cfg.Warehouse.ParquetPrefix})
		if err != nil {
			return err
		}
		tables, err := duck.LoadViews(ctx)
		if err != nil {
			_ = duck.Close()
			return err
		}
		if len(tables) > 0 {
			a.Logger.Info("parquet views loaded", slog.Any("tables", tables))
		}
		engine = duck
	default:
		db, err := sqldb.Open(ctx, cfg.Warehouse)
		if err != nil {
			return err
		}
		engine = db
	}
	a.closers = append(a.closers, engine.Close)
	a.checks = append(a.checks, engine.HealthCheck)

	var results cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		results = memory.New()
	case "objectstore":
		results = cacheobjects.New(objects)
	default:
		results = cache.Nop{}
	}

	a.Executor = query.NewExecutor(engine, results, query.ExecutorOptions{
		RowLimit: cfg.Warehouse.RowLimit,
		Timeout:  cfg.Warehouse.Timeout,
		Logger:   a.Logger,
	})
	return nil
}

// Pipeline returns the pipeline for a provider ID, building it on first use.
// An empty ID selects the configured default.
func (a *App) Pipeline(providerID string, stream bool) (*pipeline.Pipeline, error) {
	if a.Executor == nil {
		return nil, errors.New("warehouse is not configured")
	}
	if providerID == "" {
		providerID = a.Config.LLM.Provider
	}
	key := pipelineKey{provider: providerID, stream: stream}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pipelines[key]; ok {
		return p, nil
	}

	client, err := a.Catalog.Client(providerID,
		llm.WithRetry(a.Config.LLM.MaxAttempts, a.Config.LLM.Backoff),
		llm.WithLogger(a.Logger),
	)
	if err != nil {
		return nil, err
	}
	var retriever pipeline.Retriever
	if a.Retriever != nil {
		retriever = a.Retriever
	}
	p, err := pipeline.New(pipeline.Options{
		Retriever:       retriever,
		Assembler:       a.Assembler,
		Completer:       client,
		Executor:        a.Executor,
		RetryBudget:     a.Config.Pipeline.RetryBudget,
		MaxHistoryTurns: a.Config.Pipeline.MaxHistoryTurns,
		Condense:        a.Config.Pipeline.CondenseQuestion,
		Stream:          stream,
		Logger:          a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.pipelines[key] = p
	return p, nil
}

func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
