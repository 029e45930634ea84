package search_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/search"
)

type fakeMatcher struct {
	mu sync.Mutex
	// byCategory[""] holds the unscoped corpus results.
	byCategory map[string][]models.SearchResult
	calls      []types.MatchOptions
	err        error
}

func (f *fakeMatcher) MatchChunks(ctx context.Context, embedding []float32, opts types.MatchOptions) ([]models.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	rows := f.byCategory[opts.Category]
	var out []models.SearchResult
	for _, r := range rows {
		if r.Similarity >= opts.Threshold {
			out = append(out, r)
		}
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	embeds int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embeds++
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) *types.BatchEmbedding {
	return &types.BatchEmbedding{Vectors: make([][]float32, len(texts))}
}

type fakeEmbeddingCache struct {
	store map[string][]float32
}

func (f *fakeEmbeddingCache) GetEmbedding(ctx context.Context, text string) []float32 {
	return f.store[text]
}

func (f *fakeEmbeddingCache) SetEmbedding(ctx context.Context, text string, vector []float32) {
	f.store[text] = vector
}

func result(chunkID, docID, category string, similarity float64) models.SearchResult {
	return models.SearchResult{
		ChunkID:    chunkID,
		DocumentID: docID,
		Category:   category,
		Similarity: similarity,
	}
}

func newSearch(matcher *fakeMatcher, embedder *fakeEmbedder) *search.Search {
	return search.NewWithConfig(search.SearchConfig{
		DefaultLimit:     5,
		DefaultThreshold: 0.3,
	}, matcher, embedder, nil, nil)
}

func TestSearch_NoCategoriesSingleQuery(t *testing.T) {
	matcher := &fakeMatcher{byCategory: map[string][]models.SearchResult{
		"": {
			result("c1", "d1", "Fundamentals", 0.9),
			result("c2", "d2", "Financing", 0.8),
			result("c3", "d3", "Financing", 0.2), // below threshold
		},
	}}
	s := newSearch(matcher, &fakeEmbedder{})

	results, err := s.Search(context.Background(), "what is arv", types.SearchOptions{Limit: 5})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Len(t, matcher.calls, 1)
	assert.Empty(t, matcher.calls[0].Category)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.3)
	}
}

func TestSearch_CategoryFanOutPlusFallback(t *testing.T) {
	matcher := &fakeMatcher{byCategory: map[string][]models.SearchResult{
		"Fundamentals":  {result("f1", "d1", "Fundamentals", 0.8)},
		"Deal Analysis": {result("a1", "d2", "Deal Analysis", 0.7)},
		"": {
			result("f1", "d1", "Fundamentals", 0.8), // dup of scoped
			result("x1", "d9", "Financing", 0.95),
		},
	}}
	s := newSearch(matcher, &fakeEmbedder{})

	results, err := s.Search(context.Background(), "the 70% rule", types.SearchOptions{
		Limit:      4,
		Categories: []string{"Fundamentals", "Deal Analysis"},
	})
	require.NoError(t, err)

	// One scoped call per category plus the eager fallback call.
	require.Len(t, matcher.calls, 3)
	categories := map[string]int{}
	for _, call := range matcher.calls {
		categories[call.Category]++
	}
	assert.Equal(t, map[string]int{"": 1, "Fundamentals": 1, "Deal Analysis": 1}, categories)

	// Dup admitted once; fallback topped up; final order by similarity.
	require.Len(t, results, 3)
	assert.Equal(t, "x1", results[0].ChunkID)
	assert.Equal(t, "f1", results[1].ChunkID)
	assert.Equal(t, "a1", results[2].ChunkID)
}

func TestSearch_LimitAndExclusions(t *testing.T) {
	matcher := &fakeMatcher{byCategory: map[string][]models.SearchResult{
		"Financing": {
			result("c1", "seen-doc", "Financing", 0.9),
			result("c2", "d2", "Financing", 0.8),
			result("c3", "d3", "Financing", 0.7),
		},
		"": {
			result("c4", "seen-doc", "Financing", 0.95),
			result("c5", "d5", "Financing", 0.6),
		},
	}}
	s := newSearch(matcher, &fakeEmbedder{})

	results, err := s.Search(context.Background(), "seller financing", types.SearchOptions{
		Limit:         2,
		Categories:    []string{"Financing"},
		ExcludeDocIDs: []string{"seen-doc"},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(results), 2)
	for _, r := range results {
		assert.NotEqual(t, "seen-doc", r.DocumentID)
	}
}

func TestSearch_ScopedResultsWinOverWeakerFallback(t *testing.T) {
	matcher := &fakeMatcher{byCategory: map[string][]models.SearchResult{
		"Fundamentals": {
			result("s1", "d1", "Fundamentals", 0.6),
			result("s2", "d2", "Fundamentals", 0.55),
		},
		"": {
			result("w1", "d8", "Negotiation", 0.5),
			result("w2", "d9", "Negotiation", 0.45),
		},
	}}
	s := newSearch(matcher, &fakeEmbedder{})

	results, err := s.Search(context.Background(), "what is wholesaling", types.SearchOptions{
		Limit:      2,
		Categories: []string{"Fundamentals"},
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "s1", results[0].ChunkID)
	assert.Equal(t, "s2", results[1].ChunkID)
}

func TestSearch_EmbeddingCacheHitSkipsEmbedder(t *testing.T) {
	matcher := &fakeMatcher{byCategory: map[string][]models.SearchResult{}}
	embedder := &fakeEmbedder{}
	cache := &fakeEmbeddingCache{store: map[string][]float32{}}

	s := search.NewWithConfig(search.SearchConfig{}, matcher, embedder, cache, nil)

	_, err := s.Search(context.Background(), "cap rate", types.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.embeds)
	assert.NotNil(t, cache.store["cap rate"])

	_, err = s.Search(context.Background(), "cap rate", types.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.embeds, "second search should hit the embedding cache")
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	s := newSearch(&fakeMatcher{}, &fakeEmbedder{})

	_, err := s.Search(context.Background(), "   ", types.SearchOptions{})
	assert.Error(t, err)
}

func TestSearch_MatcherErrorPropagates(t *testing.T) {
	matcher := &fakeMatcher{err: errors.New("database down")}
	s := newSearch(matcher, &fakeEmbedder{})

	_, err := s.Search(context.Background(), "what is arv", types.SearchOptions{
		Categories: []string{"Fundamentals"},
	})
	assert.Error(t, err)
}
