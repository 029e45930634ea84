// Package generate orchestrates the answer pipeline: cache lookup,
// classification, reformulation, session-aware retrieval, context assembly,
// completion, and the reactive follow-up retrieval driven by tool output.
package generate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/chunker"
	"github.com/xhad/dealwise/pkg/classify"
	"github.com/xhad/dealwise/pkg/dynamic"
	"github.com/xhad/dealwise/pkg/llm"
	"github.com/xhad/dealwise/pkg/session"
)

const generationSystemPrompt = `You are DealWise, a real estate investing knowledge assistant.
Answer the user's question using the knowledge context provided below. Ground every claim in that context and cite the source titles you drew from. When the context does not cover the question, say so plainly instead of guessing. Keep answers practical and concise.`

// ResponseCache is the slice of the cache the generator needs. Nil disables
// response caching.
type ResponseCache interface {
	GetResponse(ctx context.Context, query string) *models.CachedResponse
	SetResponse(ctx context.Context, query string, cached models.CachedResponse)
}

// SessionStore is the slice of the session store the generator needs. Nil
// disables conversation-state-aware retrieval.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) *models.ConversationState
	AnalyzeTurn(ctx context.Context, sessionID, query string) (*models.ConversationState, session.TurnAnalysis)
	RecordRetrieval(ctx context.Context, state *models.ConversationState, analysis session.TurnAnalysis, categories, docIDs []string)
}

type GeneratorConfig struct {
	SearchLimit      int
	SearchThreshold  float64
	MaxContextTokens int
	MaxTokens        int
	Temperature      float64
	Stream           StreamConfig
}

// Deps are the generator's collaborators. Optional ones may be nil; the
// pipeline degrades feature by feature, never as a whole.
type Deps struct {
	Completer    types.Completer
	Classifier   *classify.Classifier
	Reformulator *classify.Reformulator
	Searcher     types.Searcher
	Cache        ResponseCache
	Sessions     SessionStore
	Dynamic      *dynamic.Analyzer
	Tokenizer    chunker.Tokenizer
	Logger       *zap.Logger
}

// Response is the finalized answer.
type Response struct {
	Text           string
	Sources        []models.Source
	Classification models.QueryClassification
	Cached         bool
}

// StreamChunk is one emitted piece of a streaming answer.
type StreamChunk struct {
	Content string
	Cached  bool
}

type GenerateOptions struct {
	SessionID string
	// SkipClassification answers with default retrieval scoping; useful when
	// the caller already knows the categories or wants the fast path.
	SkipClassification bool
	Categories         []string
}

type Generator struct {
	config         GeneratorConfig
	completer      types.Completer
	classifier     *classify.Classifier
	reformulator   *classify.Reformulator
	searcher       types.Searcher
	cache          ResponseCache
	sessions       SessionStore
	dynamic        *dynamic.Analyzer
	contextBuilder *ContextBuilder
	logger         *zap.Logger
}

func NewWithConfig(config GeneratorConfig, deps Deps) *Generator {
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.MaxContextTokens == 0 {
		config.MaxContextTokens = 3000
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		config:         config,
		completer:      deps.Completer,
		classifier:     deps.Classifier,
		reformulator:   deps.Reformulator,
		searcher:       deps.Searcher,
		cache:          deps.Cache,
		sessions:       deps.Sessions,
		dynamic:        deps.Dynamic,
		contextBuilder: NewContextBuilder(ContextBuilderConfig{MaxTokens: config.MaxContextTokens}, deps.Tokenizer),
		logger:         logger.With(zap.String("component", "generator")),
	}
}

// Generate produces a complete answer in one call.
func (g *Generator) Generate(ctx context.Context, query string, opts GenerateOptions) (*Response, error) {
	if cached := g.lookupCache(ctx, query); cached != nil {
		return cached, nil
	}

	prep, err := g.prepare(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	callOpts := types.CompleteOptions{
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	}

	start := time.Now()
	completion, err := g.completer.Complete(ctx, generationSystemPrompt, prep.prompt, callOpts)
	if err != nil && llm.IsTransient(err) {
		g.logger.Warn("generation failed, retrying once", zap.Error(err))
		completion, err = g.completer.Complete(ctx, generationSystemPrompt, prep.prompt, callOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	g.logger.Debug("generation completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("completion_tokens", completion.CompletionTokens))

	return g.finish(ctx, query, completion.Text, prep), nil
}

// GenerateStreaming produces an answer while delivering buffered chunks to
// onChunk as they become readable.
func (g *Generator) GenerateStreaming(ctx context.Context, query string, onChunk func(StreamChunk) error, opts GenerateOptions) (*Response, error) {
	if cached := g.lookupCache(ctx, query); cached != nil {
		if err := onChunk(StreamChunk{Content: cached.Text, Cached: true}); err != nil {
			return nil, err
		}
		return cached, nil
	}

	prep, err := g.prepare(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	emitted := false
	emit := func(chunk string) error {
		emitted = true
		return onChunk(StreamChunk{Content: chunk})
	}
	buffer := NewStreamBuffer(g.config.Stream, emit)

	callOpts := types.CompleteOptions{
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	}

	start := time.Now()
	completion, err := g.completer.CompleteStream(ctx, generationSystemPrompt, prep.prompt, buffer.Write, callOpts)
	if err != nil && !emitted && llm.IsTransient(err) {
		// Nothing reached the client yet, so a clean retry is safe. A fresh
		// buffer discards whatever the failed attempt left behind; the retry
		// must stream exactly the text it returns.
		g.logger.Warn("streaming generation failed, retrying once", zap.Error(err))
		buffer = NewStreamBuffer(g.config.Stream, emit)
		completion, err = g.completer.CompleteStream(ctx, generationSystemPrompt, prep.prompt, buffer.Write, callOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return nil, err
	}
	g.logger.Debug("streaming generation completed", zap.Duration("elapsed", time.Since(start)))

	return g.finish(ctx, query, completion.Text, prep), nil
}

// AugmentFromToolResult runs the reactive retrieval path over one tool
// result. It returns nil when no trigger fired or nothing new was found.
func (g *Generator) AugmentFromToolResult(ctx context.Context, sessionID, toolResult string) *dynamic.Retrieval {
	if g.dynamic == nil {
		return nil
	}

	var state *models.ConversationState
	if g.sessions != nil && sessionID != "" {
		state = g.sessions.Get(ctx, sessionID)
	}

	analysis := g.dynamic.Analyze(toolResult, state)
	if !analysis.ShouldRetrieve {
		return nil
	}

	retrieval := g.dynamic.Retrieve(ctx, analysis, state)
	if retrieval == nil {
		return nil
	}

	if g.sessions != nil && state != nil {
		g.sessions.RecordRetrieval(ctx, state, session.TurnAnalysis{}, analysis.SuggestedCategories, retrieval.DocIDs)
	}

	return retrieval
}

// prepared carries the retrieval outcome between prepare and finish.
type prepared struct {
	prompt         string
	classification models.QueryClassification
	sources        []models.Source
	state          *models.ConversationState
	turn           session.TurnAnalysis
	categories     []string
	docIDs         []string
}

func (g *Generator) prepare(ctx context.Context, query string, opts GenerateOptions) (*prepared, error) {
	prep := &prepared{}
	limit := g.config.SearchLimit

	if g.classifier != nil && !opts.SkipClassification {
		prep.classification = g.classifier.Classify(ctx, query)
		limit = classify.AdjustLimit(prep.classification.Complexity, limit)
	}

	searchQuery := query
	categories := opts.Categories
	if len(categories) == 0 {
		categories = prep.classification.Categories
	}

	if g.reformulator != nil {
		reformulation := g.reformulator.Reformulate(ctx, query)
		searchQuery = reformulation.KnowledgeQuery
		if len(categories) == 0 {
			categories = reformulation.Categories
		}
	}

	if g.sessions != nil && opts.SessionID != "" {
		prep.state, prep.turn = g.sessions.AnalyzeTurn(ctx, opts.SessionID, query)
	}

	results, err := g.searcher.Search(ctx, searchQuery, types.SearchOptions{
		Limit:         limit,
		Threshold:     g.config.SearchThreshold,
		Categories:    categories,
		ExcludeDocIDs: prep.turn.ExcludeDocIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	contextText, sources := g.contextBuilder.Build(results)
	prep.sources = sources
	prep.prompt = fmt.Sprintf("Knowledge context:\n\n%s\n\nQuestion: %s", contextText, query)

	seenCategory := make(map[string]bool)
	seenDoc := make(map[string]bool)
	for _, r := range results {
		if !seenCategory[r.Category] {
			seenCategory[r.Category] = true
			prep.categories = append(prep.categories, r.Category)
		}
		if !seenDoc[r.DocumentID] {
			seenDoc[r.DocumentID] = true
			prep.docIDs = append(prep.docIDs, r.DocumentID)
		}
	}

	g.logger.Debug("retrieval prepared",
		zap.Int("results", len(results)),
		zap.Strings("categories", categories),
		zap.String("classification_source", prep.classification.Source))

	return prep, nil
}

// finish records session state and schedules the cache write. The cache
// write is fire-and-forget; response latency never waits on Redis.
func (g *Generator) finish(ctx context.Context, query, text string, prep *prepared) *Response {
	if g.sessions != nil && prep.state != nil {
		g.sessions.RecordRetrieval(ctx, prep.state, prep.turn, prep.categories, prep.docIDs)
	}

	if g.cache != nil && text != "" {
		cached := models.CachedResponse{
			Response:       text,
			Sources:        prep.sources,
			Classification: prep.classification,
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			g.cache.SetResponse(writeCtx, query, cached)
		}()
	}

	return &Response{
		Text:           text,
		Sources:        prep.sources,
		Classification: prep.classification,
	}
}

func (g *Generator) lookupCache(ctx context.Context, query string) *Response {
	if g.cache == nil {
		return nil
	}

	cached := g.cache.GetResponse(ctx, query)
	if cached == nil {
		return nil
	}

	g.logger.Debug("response served from cache", zap.Time("cached_at", cached.CachedAt))
	return &Response{
		Text:           cached.Response,
		Sources:        cached.Sources,
		Classification: cached.Classification,
		Cached:         true,
	}
}
