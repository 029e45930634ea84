package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
)

// EmbeddingCache is the slice of the cache the searcher needs. Nil disables
// caching.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) []float32
	SetEmbedding(ctx context.Context, text string, vector []float32)
}

type SearchConfig struct {
	DefaultLimit     int
	DefaultThreshold float64
}

// Search is the category-aware semantic search. With categories it fans out
// one scoped query per category plus an unscoped fallback, all in parallel,
// then merges scoped-first. The fallback always runs: category filtering
// sharpens precision but can starve recall when the classifier is wrong, and
// running it eagerly keeps worst-case latency at one round trip.
type Search struct {
	config   SearchConfig
	matcher  types.ChunkMatcher
	embedder types.Embedder
	cache    EmbeddingCache
	logger   *zap.Logger
}

func NewWithConfig(config SearchConfig, matcher types.ChunkMatcher, embedder types.Embedder, cache EmbeddingCache, logger *zap.Logger) *Search {
	if config.DefaultLimit == 0 {
		config.DefaultLimit = 5
	}
	if config.DefaultThreshold == 0 {
		config.DefaultThreshold = 0.35
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Search{
		config:   config,
		matcher:  matcher,
		embedder: embedder,
		cache:    cache,
		logger:   logger.With(zap.String("component", "search")),
	}
}

func (s *Search) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = s.config.DefaultLimit
	}
	if opts.Threshold == 0 {
		opts.Threshold = s.config.DefaultThreshold
	}

	start := time.Now()

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	if len(opts.Categories) == 0 {
		results, err = s.searchCorpus(ctx, embedding, opts)
	} else {
		results, err = s.searchByCategory(ctx, embedding, opts)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search completed",
		zap.Int("results", len(results)),
		zap.Strings("categories", opts.Categories),
		zap.Int("excluded_docs", len(opts.ExcludeDocIDs)),
		zap.Duration("elapsed", time.Since(start)))

	return results, nil
}

func (s *Search) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.cache != nil {
		if vector := s.cache.GetEmbedding(ctx, query); vector != nil {
			return vector, nil
		}
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if s.cache != nil {
		s.cache.SetEmbedding(ctx, query, vector)
	}

	return vector, nil
}

// searchCorpus is the no-category path: one query over everything.
func (s *Search) searchCorpus(ctx context.Context, embedding []float32, opts types.SearchOptions) ([]models.SearchResult, error) {
	fetch := opts.Limit
	if len(opts.ExcludeDocIDs) > 0 {
		fetch = opts.Limit * 2
	}

	rows, err := s.matcher.MatchChunks(ctx, embedding, types.MatchOptions{
		Threshold: opts.Threshold,
		Limit:     fetch,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}

	results := filterExcluded(rows, opts.ExcludeDocIDs)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// searchByCategory fans out scoped queries plus the unscoped fallback,
// joins, and merges scoped-first.
func (s *Search) searchByCategory(ctx context.Context, embedding []float32, opts types.SearchOptions) ([]models.SearchResult, error) {
	perCategory := (opts.Limit+len(opts.Categories)-1)/len(opts.Categories) + 2

	scoped := make([][]models.SearchResult, len(opts.Categories))
	var fallback []models.SearchResult

	g, gctx := errgroup.WithContext(ctx)

	for i, category := range opts.Categories {
		g.Go(func() error {
			rows, err := s.matcher.MatchChunks(gctx, embedding, types.MatchOptions{
				Threshold: opts.Threshold,
				Limit:     perCategory,
				Category:  category,
			})
			if err != nil {
				return fmt.Errorf("category query %q failed: %w", category, err)
			}
			scoped[i] = rows
			return nil
		})
	}

	g.Go(func() error {
		fetch := opts.Limit
		if len(opts.ExcludeDocIDs) > 0 {
			fetch = opts.Limit * 2
		}
		rows, err := s.matcher.MatchChunks(gctx, embedding, types.MatchOptions{
			Threshold: opts.Threshold,
			Limit:     fetch,
		})
		if err != nil {
			return fmt.Errorf("fallback query failed: %w", err)
		}
		fallback = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(opts.ExcludeDocIDs))
	for _, id := range opts.ExcludeDocIDs {
		excluded[id] = true
	}

	seen := make(map[string]bool)
	var merged []models.SearchResult

	admit := func(r models.SearchResult) {
		if excluded[r.DocumentID] || seen[r.ChunkID] {
			return
		}
		seen[r.ChunkID] = true
		merged = append(merged, r)
	}

	// Category-scoped results first, in category order.
	for _, rows := range scoped {
		for _, r := range rows {
			admit(r)
		}
	}

	// Top up from the fallback when the scoped queries came up short.
	if len(merged) < opts.Limit {
		for _, r := range fallback {
			if len(merged) >= opts.Limit {
				break
			}
			admit(r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	return merged, nil
}

func filterExcluded(rows []models.SearchResult, excludeDocIDs []string) []models.SearchResult {
	if len(excludeDocIDs) == 0 {
		return rows
	}

	excluded := make(map[string]bool, len(excludeDocIDs))
	for _, id := range excludeDocIDs {
		excluded[id] = true
	}

	var kept []models.SearchResult
	for _, r := range rows {
		if !excluded[r.DocumentID] {
			kept = append(kept, r)
		}
	}
	return kept
}
