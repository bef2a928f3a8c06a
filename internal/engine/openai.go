package engine

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to the OpenAI API or any server exposing the same chat
// completions endpoint.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	hasKey bool
}

// NewOpenAIEngine creates an OpenAIEngine. An empty apiKey is accepted: every
// completion then fails with ErrUnavailable wrapping ErrMissingCredential, so
// stages fall back instead of the process refusing to start. baseURL may be
// empty to use the provider default.
func NewOpenAIEngine(apiKey, baseURL, model string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		hasKey: apiKey != "",
	}
}

func (e *OpenAIEngine) Name() string  { return "openai" }
func (e *OpenAIEngine) Model() string { return e.model }

func (e *OpenAIEngine) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if !e.hasKey {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, ErrMissingCredential)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no completion choices returned", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// IsRunning reports whether the engine is configured with a credential.
// Hosted endpoints are not probed.
func (e *OpenAIEngine) IsRunning(_ context.Context) bool {
	return e.hasKey
}

func (e *OpenAIEngine) HasModel(_ context.Context, name string) bool {
	return name == e.model
}

func (e *OpenAIEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("openai backend cannot pull model %s", name)
}
