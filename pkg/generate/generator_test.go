package generate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/cache"
	"github.com/xhad/dealwise/pkg/chunker"
	"github.com/xhad/dealwise/pkg/classify"
	"github.com/xhad/dealwise/pkg/dynamic"
	"github.com/xhad/dealwise/pkg/generate"
	"github.com/xhad/dealwise/pkg/session"
)

type stubCompleter struct {
	response      string
	fragments     []string
	fragmentDelay time.Duration
	err           error
	calls         int
	lastPrompt    string
}

func (s *stubCompleter) Complete(ctx context.Context, system, prompt string, opts types.CompleteOptions) (*types.Completion, error) {
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	return &types.Completion{Text: s.response}, nil
}

func (s *stubCompleter) CompleteStream(ctx context.Context, system, prompt string, onFragment func(string) error, opts types.CompleteOptions) (*types.Completion, error) {
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	for _, f := range s.fragments {
		if s.fragmentDelay > 0 {
			time.Sleep(s.fragmentDelay)
		}
		if err := onFragment(f); err != nil {
			return nil, err
		}
	}
	return &types.Completion{Text: strings.Join(s.fragments, "")}, nil
}

// interruptedStreamCompleter emits a partial fragment, fails with a transient
// error, then streams the full answer on the next call.
type interruptedStreamCompleter struct {
	calls int
}

func (f *interruptedStreamCompleter) Complete(ctx context.Context, system, prompt string, opts types.CompleteOptions) (*types.Completion, error) {
	f.calls++
	return &types.Completion{Text: "the full answer"}, nil
}

func (f *interruptedStreamCompleter) CompleteStream(ctx context.Context, system, prompt string, onFragment func(string) error, opts types.CompleteOptions) (*types.Completion, error) {
	f.calls++
	if f.calls == 1 {
		if err := onFragment("partial "); err != nil {
			return nil, err
		}
		return nil, errors.New("connection reset by peer")
	}
	if err := onFragment("the full answer"); err != nil {
		return nil, err
	}
	return &types.Completion{Text: "the full answer"}, nil
}

type countingSearcher struct {
	results  []models.SearchResult
	err      error
	calls    int
	lastOpts types.SearchOptions
}

func (c *countingSearcher) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchResult, error) {
	c.calls++
	c.lastOpts = opts
	return c.results, c.err
}

func arvResults() []models.SearchResult {
	return []models.SearchResult{
		{ChunkID: "c1", DocumentID: "doc-arv", DocumentSlug: "arv-basics", DocumentTitle: "ARV Basics", Category: classify.CategoryFundamentals, Content: "ARV is the value after repairs are done.", Similarity: 0.88},
		{ChunkID: "c2", DocumentID: "doc-arv", DocumentSlug: "arv-basics", DocumentTitle: "ARV Basics", Category: classify.CategoryFundamentals, Content: "Comps drive the ARV estimate.", Similarity: 0.79},
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewWithClient(cache.CacheConfig{}, client, nil)
}

func TestGenerator_RepeatQueryServedFromCache(t *testing.T) {
	searcher := &countingSearcher{results: arvResults()}
	completer := &stubCompleter{response: "ARV is the post-renovation market value."}
	respCache := newTestCache(t)

	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: completer,
		Searcher:  searcher,
		Cache:     respCache,
		Tokenizer: chunker.HeuristicTokenizer{},
	})

	ctx := context.Background()
	first, err := g.Generate(ctx, "What is ARV?", generate.GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, searcher.calls)

	// The cache write is asynchronous.
	require.Eventually(t, func() bool {
		return respCache.GetResponse(ctx, "What is ARV?") != nil
	}, time.Second, 10*time.Millisecond)

	second, err := g.Generate(ctx, "  what IS arv?  ", generate.GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached, "normalization-equivalent query hits the cache")
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, searcher.calls, "no second retrieval")
	assert.Equal(t, 1, completer.calls, "no second generation")
}

func TestGenerator_SearchErrorSurfaces(t *testing.T) {
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: &stubCompleter{response: "unused"},
		Searcher:  &countingSearcher{err: errors.New("store unavailable")},
	})

	_, err := g.Generate(context.Background(), "What is ARV?", generate.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval failed")
}

func TestGenerator_PromptCarriesContextAndSourcesDeduplicate(t *testing.T) {
	searcher := &countingSearcher{results: arvResults()}
	completer := &stubCompleter{response: "Answer."}

	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: completer,
		Searcher:  searcher,
		Tokenizer: chunker.HeuristicTokenizer{},
	})

	resp, err := g.Generate(context.Background(), "What is ARV?", generate.GenerateOptions{})
	require.NoError(t, err)

	assert.Contains(t, completer.lastPrompt, "[Source: ARV Basics")
	assert.Contains(t, completer.lastPrompt, "value after repairs")
	assert.Contains(t, completer.lastPrompt, "Question: What is ARV?")

	require.Len(t, resp.Sources, 1, "two chunks of one document yield one source")
	assert.Equal(t, "doc-arv", resp.Sources[0].DocumentID)
}

func TestGenerator_EmptyRetrievalStillAnswers(t *testing.T) {
	completer := &stubCompleter{response: "I do not have material on that."}
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: completer,
		Searcher:  &countingSearcher{},
	})

	resp, err := g.Generate(context.Background(), "What is a widget?", generate.GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, completer.lastPrompt, "No relevant knowledge base material")
}

func TestGenerator_ClassificationScopesAndNarrowsRetrieval(t *testing.T) {
	classifierModel := &stubCompleter{
		response: `{"intent":"definition lookup","topics":[],"complexity":"simple","categories":["Financing"]}`,
	}
	searcher := &countingSearcher{results: arvResults()}

	g := generate.NewWithConfig(generate.GeneratorConfig{SearchLimit: 5}, generate.Deps{
		Completer:  &stubCompleter{response: "Answer."},
		Classifier: classify.NewClassifier(classifierModel, nil),
		Searcher:   searcher,
	})

	_, err := g.Generate(context.Background(), "What is DSCR?", generate.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, searcher.lastOpts.Limit, "simple queries narrow the limit")
	assert.Equal(t, []string{classify.CategoryFinancing}, searcher.lastOpts.Categories)
}

func TestGenerator_StreamingFlushesWithoutPunctuation(t *testing.T) {
	completer := &stubCompleter{
		fragments:     []string{"cash ", "flow ", "equals ", "rent ", "minus ", "all ", "expenses"},
		fragmentDelay: 10 * time.Millisecond,
	}
	g := generate.NewWithConfig(generate.GeneratorConfig{
		Stream: generate.StreamConfig{MinChunkBytes: 4096, FlushInterval: 15 * time.Millisecond},
	}, generate.Deps{
		Completer: completer,
		Searcher:  &countingSearcher{results: arvResults()},
	})

	var chunks []generate.StreamChunk
	resp, err := g.GenerateStreaming(context.Background(), "What is cash flow?", func(c generate.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	}, generate.GenerateOptions{})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(chunks), 2, "interval flushes before the final force-flush")

	var full strings.Builder
	for _, c := range chunks {
		assert.False(t, c.Cached)
		full.WriteString(c.Content)
	}
	assert.Equal(t, "cash flow equals rent minus all expenses", full.String())
	assert.Equal(t, full.String(), resp.Text)
}

func TestGenerator_StreamingRetryDiscardsInterruptedFragments(t *testing.T) {
	completer := &interruptedStreamCompleter{}
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: completer,
		Searcher:  &countingSearcher{results: arvResults()},
	})

	var streamed strings.Builder
	resp, err := g.GenerateStreaming(context.Background(), "What is ARV?", func(c generate.StreamChunk) error {
		streamed.WriteString(c.Content)
		return nil
	}, generate.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, completer.calls, "one transient failure, one retry")
	assert.Equal(t, "the full answer", resp.Text)
	assert.Equal(t, resp.Text, streamed.String(),
		"fragments buffered by the failed attempt never reach the client")
}

func TestGenerator_StreamingCacheHitEmitsSingleTaggedChunk(t *testing.T) {
	respCache := newTestCache(t)
	ctx := context.Background()
	respCache.SetResponse(ctx, "What is ARV?", models.CachedResponse{Response: "Cached answer."})

	searcher := &countingSearcher{}
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: &stubCompleter{},
		Searcher:  searcher,
		Cache:     respCache,
	})

	var chunks []generate.StreamChunk
	resp, err := g.GenerateStreaming(ctx, "what is arv?", func(c generate.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	}, generate.GenerateOptions{})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Cached)
	assert.Equal(t, "Cached answer.", chunks[0].Content)
	assert.True(t, resp.Cached)
	assert.Zero(t, searcher.calls)
}

func TestGenerator_SessionRecordsRetrieval(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := session.NewWithClient(session.SessionConfig{}, client, nil)

	results := []models.SearchResult{
		{ChunkID: "c1", DocumentID: "doc-lien", DocumentTitle: "Liens 101", Category: classify.CategoryLegal, Content: "A lien encumbers title.", Similarity: 0.8},
	}
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: &stubCompleter{response: "Answer."},
		Searcher:  &countingSearcher{results: results},
		Sessions:  sessions,
	})

	ctx := context.Background()
	_, err := g.Generate(ctx, "What is a lien?", generate.GenerateOptions{SessionID: "sess-gen"})
	require.NoError(t, err)

	state := sessions.Get(ctx, "sess-gen")
	assert.Contains(t, state.FetchedDocIDs, "doc-lien")
	assert.Contains(t, state.FetchedCategories, classify.CategoryLegal)
}

func TestGenerator_ToolResultTriggersFollowUpOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := session.NewWithClient(session.SessionConfig{}, client, nil)

	searcher := &countingSearcher{results: []models.SearchResult{
		{ChunkID: "c1", DocumentID: "doc-probate", DocumentTitle: "Buying Probate Properties", Category: classify.CategoryLegal, Content: "Court approval is required.", Similarity: 0.82},
	}}
	g := generate.NewWithConfig(generate.GeneratorConfig{}, generate.Deps{
		Completer: &stubCompleter{},
		Searcher:  searcher,
		Sessions:  sessions,
		Dynamic:   dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, searcher, nil),
	})

	ctx := context.Background()
	first := g.AugmentFromToolResult(ctx, "sess-tool", "Listing note: pending probate sale")
	require.NotNil(t, first)
	assert.Contains(t, first.Context, "Court approval")

	// The legal category is now in the session, so the same signal is quiet.
	second := g.AugmentFromToolResult(ctx, "sess-tool", "Another pending probate sale")
	assert.Nil(t, second)
}
