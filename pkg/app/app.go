// Package app wires the pipeline together from configuration. The CLI and
// the websocket server both build the same App; they differ only in how they
// drive it.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/pkg/cache"
	"github.com/xhad/dealwise/pkg/chunker"
	"github.com/xhad/dealwise/pkg/classify"
	"github.com/xhad/dealwise/pkg/config"
	"github.com/xhad/dealwise/pkg/dynamic"
	"github.com/xhad/dealwise/pkg/generate"
	"github.com/xhad/dealwise/pkg/ingest"
	"github.com/xhad/dealwise/pkg/llm"
	"github.com/xhad/dealwise/pkg/search"
	"github.com/xhad/dealwise/pkg/session"
	"github.com/xhad/dealwise/pkg/store"
)

// App holds the wired pipeline.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *store.VectorStore
	Cache     *cache.Cache
	Sessions  *session.Store
	Searcher  *search.Search
	Generator *generate.Generator
	Ingestor  *ingest.Ingestor
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", errs[0].Message)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	responseCache := cache.NewWithConfig(cache.CacheConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ResponseTTL:  cfg.Cache.ResponseTTL,
		EmbeddingTTL: cfg.Cache.EmbeddingTTL,
	}, logger)

	sessions := session.NewWithClient(session.SessionConfig{TTL: cfg.Session.TTL}, responseCache.Client(), logger)

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:      cfg.LLM.EmbeddingModel,
		BaseURL:    cfg.LLM.BaseURL,
		BatchSize:  cfg.Embedder.BatchSize,
		MaxRetries: cfg.Embedder.MaxRetries,
		BaseDelay:  cfg.Embedder.BaseDelay,
		MaxDelay:   cfg.Embedder.MaxDelay,
		RatePerSec: cfg.Embedder.RatePerSec,
	}, logger)
	if err != nil {
		vectorStore.Close()
		return nil, err
	}

	generation, err := llm.NewCompleter(llm.CompleterConfig{
		Model:       cfg.LLM.GenerationModel,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		vectorStore.Close()
		return nil, err
	}

	fast, err := llm.NewCompleter(llm.CompleterConfig{
		Model:   cfg.LLM.FastModel,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		vectorStore.Close()
		return nil, err
	}

	searcher := search.NewWithConfig(search.SearchConfig{
		DefaultLimit:     cfg.Search.Limit,
		DefaultThreshold: cfg.Search.Threshold,
	}, vectorStore, embedder, responseCache, logger)

	tokenizer, err := chunker.NewTiktokenTokenizer("")
	if err != nil {
		logger.Warn("tiktoken unavailable, using heuristic token counts", zap.Error(err))
	}

	var tok chunker.Tokenizer = chunker.HeuristicTokenizer{}
	if tokenizer != nil {
		tok = tokenizer
	}

	generator := generate.NewWithConfig(generate.GeneratorConfig{
		SearchLimit:      cfg.Search.Limit,
		SearchThreshold:  cfg.Search.Threshold,
		MaxContextTokens: cfg.Context.MaxTokens,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		Stream: generate.StreamConfig{
			MinChunkBytes: cfg.Stream.MinChunkBytes,
			FlushInterval: cfg.Stream.FlushInterval,
		},
	}, generate.Deps{
		Completer:    generation,
		Classifier:   classify.NewClassifier(fast, logger),
		Reformulator: classify.NewReformulator(classify.ReformulatorConfig{Timeout: cfg.LLM.ReformulationTimeout}, fast, logger),
		Searcher:     searcher,
		Cache:        responseCache,
		Sessions:     sessions,
		Dynamic:      dynamic.NewAnalyzer(dynamic.AnalyzerConfig{Threshold: cfg.Search.Threshold}, searcher, logger),
		Tokenizer:    tok,
		Logger:       logger,
	})

	ingestor := ingest.NewWithConfig(ingest.IngestorConfig{},
		chunker.NewWithConfig(chunker.ChunkerConfig{
			MinTokens:     cfg.Chunker.MinTokens,
			MaxTokens:     cfg.Chunker.MaxTokens,
			OverlapTokens: cfg.Chunker.OverlapTokens,
		}, tok),
		embedder, vectorStore, responseCache, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     vectorStore,
		Cache:     responseCache,
		Sessions:  sessions,
		Searcher:  searcher,
		Generator: generator,
		Ingestor:  ingestor,
	}, nil
}

// Close releases the store and cache connections.
func (a *App) Close() {
	a.Store.Close()
	if err := a.Cache.Close(); err != nil {
		a.Logger.Warn("failed to close cache", zap.Error(err))
	}
}
