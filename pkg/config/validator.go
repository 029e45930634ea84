package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.max_retries",
			Message: "max_retries cannot be negative",
		})
	}

	if c.Chunker.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.Chunker.MinTokens < 0 || c.Chunker.MinTokens > c.Chunker.MaxTokens {
		errors = append(errors, ValidationError{
			Field:   "chunker.min_tokens",
			Message: "min_tokens must be non-negative and not exceed max_tokens",
		})
	}

	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxTokens {
		errors = append(errors, ValidationError{
			Field:   "chunker.overlap_tokens",
			Message: "overlap_tokens must be non-negative and less than max_tokens",
		})
	}

	if c.Search.Limit < 1 {
		errors = append(errors, ValidationError{
			Field:   "search.limit",
			Message: "limit must be positive",
		})
	}

	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "search.threshold",
			Message: "threshold must be between 0 and 1",
		})
	}

	if c.Session.TTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.ttl",
			Message: "ttl must be positive",
		})
	}

	if c.Stream.MinChunkBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "stream.min_chunk_bytes",
			Message: "min_chunk_bytes must be positive",
		})
	}

	if c.Stream.FlushInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.flush_interval",
			Message: "flush_interval must be positive",
		})
	}

	if c.Context.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "context.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	return errors
}
