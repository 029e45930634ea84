package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/dealwise/internal/types"
)

// CompleterConfig configures one completion tier. The pipeline runs three:
// a fast model for classification (JSON mode, temperature 0), the same fast
// model for time-bounded reformulation, and a larger model for generation.
type CompleterConfig struct {
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// Completer wraps one Ollama model behind the text-completion capability.
type Completer struct {
	config CompleterConfig
	llm    llms.Model
}

// NewCompleter creates a Completer talking to an Ollama server.
func NewCompleter(config CompleterConfig) (*Completer, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("completer model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Completer{config: config, llm: model}, nil
}

// NewWithModel wraps an already constructed model. Used by tests and by
// callers that share one client across tiers.
func NewWithModel(config CompleterConfig, model llms.Model) *Completer {
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	return &Completer{config: config, llm: model}
}

func (c *Completer) Complete(ctx context.Context, system, prompt string, opts types.CompleteOptions) (*types.Completion, error) {
	return c.generate(ctx, system, prompt, opts, nil)
}

// CompleteStream behaves like Complete but forwards raw provider fragments
// to onFragment as they arrive. Cancelling ctx aborts the underlying call;
// fragments already delivered are not retracted.
func (c *Completer) CompleteStream(ctx context.Context, system, prompt string, onFragment func(string) error, opts types.CompleteOptions) (*types.Completion, error) {
	return c.generate(ctx, system, prompt, opts, onFragment)
}

func (c *Completer) generate(ctx context.Context, system, prompt string, opts types.CompleteOptions, onFragment func(string) error) (*types.Completion, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	callOpts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(opts.Temperature),
	}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if onFragment != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return onFragment(string(chunk))
		}))
	}

	resp, err := c.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	choice := resp.Choices[0]
	return &types.Completion{
		Text:             choice.Content,
		PromptTokens:     generationInfoInt(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: generationInfoInt(choice.GenerationInfo, "CompletionTokens"),
		FinishReason:     choice.StopReason,
	}, nil
}

func generationInfoInt(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
