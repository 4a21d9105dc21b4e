package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/diff"
	"github.com/quarrylabs/quarry/internal/graph"
	"github.com/quarrylabs/quarry/internal/graph/remote"
	"github.com/quarrylabs/quarry/internal/graphsync"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/parse"
	openai "github.com/quarrylabs/quarry/internal/provider/openai"
	"github.com/quarrylabs/quarry/internal/queue/streams"
	"github.com/quarrylabs/quarry/internal/retrieval"
	"github.com/quarrylabs/quarry/internal/searchindex"
	"github.com/quarrylabs/quarry/internal/server"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/source/fs"
	"github.com/quarrylabs/quarry/internal/store"
)

// app holds the wired dependency graph shared by the subcommands.
type app struct {
	cfg        *config.Config
	store      *store.Store
	index      *searchindex.Index
	redis      *redis.Client
	pipeline   *ingest.Pipeline
	retrieval  *retrieval.Service
	answer     *answer.Service
	reconciler *graphsync.Reconciler
	publisher  *streams.Publisher
}

// buildApp assembles the full dependency graph from configuration. The graph
// engine, cache, and queue are optional; everything else is required.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg := config.LoadConfig(cfgPath)

	dsn, err := cfg.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	index, err := searchindex.Open(cfg.Index.Path, cfg.Index.BatchCap)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}

	if cfg.Embedding.APIKey == "" {
		return nil, fmt.Errorf("embedding api_key not configured")
	}
	llm := openai.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL,
		cfg.Embedding.Model, cfg.Embedding.CompletionModel, cfg.Embedding.Timeout)

	var redisClient *redis.Client
	var resultCache cache.Cache
	var publisher *streams.Publisher
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		resultCache = cache.NewRedisCacheWithClient(redisClient)
		publisher = streams.NewPublisher(redisClient)
	}

	var engine graph.Engine
	var syncer *graphsync.Synchronizer
	var reconciler *graphsync.Reconciler
	var graphDep ingest.GraphSyncer
	var refs diff.ReferenceCounter
	if cfg.Graph.Enabled {
		engine, err = remote.New(cfg.Graph)
		if err != nil {
			return nil, fmt.Errorf("graph engine: %w", err)
		}
		syncer, err = graphsync.New(st, engine, cfg.Graph.EntityTypes, nil)
		if err != nil {
			return nil, err
		}
		reconciler, err = graphsync.NewReconciler(syncer, st, cfg.Graph.RetryCeiling)
		if err != nil {
			return nil, err
		}
		graphDep = syncer
		refs = engine
	}

	sourceRoot := cfg.Ingest.SourceRoot
	if sourceRoot == "" {
		sourceRoot = "."
	}
	fsConn, err := fs.New(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("filesystem connector: %w", err)
	}

	pipeline, err := ingest.New(st, index, graphDep, refs,
		[]source.Connector{fsConn}, parse.NewTextParser(), llm,
		resultCache, cfg.Embedding.BatchSize, nil)
	if err != nil {
		return nil, err
	}

	var reranker = llm
	retrievalSvc, err := retrieval.New(index, st, llm, resultCache, reranker, cfg.Retrieval, nil)
	if err != nil {
		return nil, err
	}

	answerSvc, err := answer.New(retrievalSvc, llm, cfg.Retrieval.TopK, nil)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		store:      st,
		index:      index,
		redis:      redisClient,
		pipeline:   pipeline,
		retrieval:  retrievalSvc,
		answer:     answerSvc,
		reconciler: reconciler,
		publisher:  publisher,
	}, nil
}

func (a *app) serverDeps() server.Deps {
	return server.Deps{
		Config:     *a.cfg,
		Store:      a.store,
		Pipeline:   a.pipeline,
		Retrieval:  a.retrieval,
		Answer:     a.answer,
		Reconciler: a.reconciler,
		Publisher:  a.publisher,
	}
}

// close releases held resources; errors are logged, not returned.
func (a *app) close(logger *log.Logger) {
	if err := a.index.Close(); err != nil {
		logger.Printf("warn: close index: %v", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Printf("warn: close redis: %v", err)
		}
	}
	if err := a.store.DB.Close(); err != nil {
		logger.Printf("warn: close postgres: %v", err)
	}
}
