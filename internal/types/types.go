package types

import (
	"context"

	"github.com/xhad/dealwise/internal/models"
)

// Core capability interfaces. Concrete clients (ollama, pgvector, redis) are
// constructed at startup and injected; components depend on these interfaces
// so tests can swap in fakes.

// Embedder turns text into vectors.
type Embedder interface {
	// Embed embeds a single text. It propagates failure after retries are
	// exhausted.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in fixed-size sequential batches. The result
	// always has one slot per input; failed slots hold a nil vector. It never
	// returns an error, only aggregate counts.
	EmbedBatch(ctx context.Context, texts []string) *BatchEmbedding
}

// BatchEmbedding is the aggregate result of EmbedBatch.
type BatchEmbedding struct {
	Vectors      [][]float32
	TotalTokens  int
	SuccessCount int
	FailureCount int
}

// CompleteOptions tune one completion call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Completion is the finalized output of a completion call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Completer is the text-completion capability. CompleteStream delivers raw
// provider fragments to onFragment as they arrive and returns the finalized
// completion; cancellation propagates through ctx.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts CompleteOptions) (*Completion, error)
	CompleteStream(ctx context.Context, system, prompt string, onFragment func(string) error, opts CompleteOptions) (*Completion, error)
}

// MatchOptions scope one vector-store similarity query.
type MatchOptions struct {
	Threshold float64
	Limit     int
	// Category scopes the query to one category; empty means the full corpus.
	Category string
}

// ChunkMatcher is the vector-store capability: one similarity query over
// stored chunks.
type ChunkMatcher interface {
	MatchChunks(ctx context.Context, embedding []float32, opts MatchOptions) ([]models.SearchResult, error)
}

// SearchOptions drive one category-aware search.
type SearchOptions struct {
	Limit         int
	Threshold     float64
	Categories    []string
	ExcludeDocIDs []string
}

// Searcher is the category-aware semantic search used by the generator and
// the dynamic retrieval analyzer.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.SearchResult, error)
}
