package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/dealwise/internal/types"
)

// EmbeddingClient is the raw provider call: one network round trip per
// batch of texts.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Model      string
	BaseURL    string
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	RatePerSec float64
}

// Embedder turns text into vectors with retry/backoff. Batches run
// sequentially, one provider call each, paced by a rate limiter so bulk
// ingestion stays inside provider limits.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

func applyEmbedderDefaults(config *EmbedderConfig) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 16
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay == 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 8 * time.Second
	}
	if config.RatePerSec == 0 {
		config.RatePerSec = 2.0
	}
}

// NewEmbedder creates an Embedder backed by an Ollama embedding model.
func NewEmbedder(config EmbedderConfig, logger *zap.Logger) (*Embedder, error) {
	applyEmbedderDefaults(&config)

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return NewWithClient(config, client, logger), nil
}

// NewWithClient creates an Embedder over an injected client.
func NewWithClient(config EmbedderConfig, client EmbeddingClient, logger *zap.Logger) *Embedder {
	applyEmbedderDefaults(&config)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), 1),
		logger:  logger,
	}
}

// Embed embeds a single text. Unlike EmbedBatch it propagates failure once
// retries are exhausted.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	vectors, err := e.callWithRetry(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}

	return vectors[0], nil
}

// EmbedBatch embeds texts in fixed-size sequential batches. The result has
// one slot per input text; a batch that fails after retries leaves its slots
// nil and the remaining batches still run.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) *types.BatchEmbedding {
	result := &types.BatchEmbedding{
		Vectors: make([][]float32, len(texts)),
	}

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			result.FailureCount += len(texts) - start
			return result
		}

		vectors, err := e.callWithRetry(ctx, batch)
		if err != nil || len(vectors) != len(batch) {
			e.logger.Warn("embedding batch failed, continuing",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			result.FailureCount += len(batch)
			continue
		}

		for i, vector := range vectors {
			result.Vectors[start+i] = vector
		}
		result.SuccessCount += len(batch)
		for _, text := range batch {
			result.TotalTokens += estimateTokens(text)
		}
	}

	return result
}

// callWithRetry issues one provider call. Rate-limit errors back off
// exponentially (doubling, capped), other transient errors retry after a
// fixed delay, anything else fails fast.
func (e *Embedder) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		vectors, err := e.client.CreateEmbedding(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var delay time.Duration
		switch {
		case IsRateLimited(err):
			delay = e.config.BaseDelay << uint(attempt)
			if delay > e.config.MaxDelay {
				delay = e.config.MaxDelay
			}
		case IsTransient(err):
			delay = e.config.BaseDelay
		default:
			return nil, err
		}

		if attempt == e.config.MaxRetries {
			break
		}

		e.logger.Debug("retrying embedding call",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d retries: %w", e.config.MaxRetries, lastErr)
}

// estimateTokens approximates usage for accounting; the provider does not
// report embedding token counts.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return words + words/3 + 1
}
