package engine

import (
	"context"
	"errors"
)

// ErrUnavailable marks every failure of the completion service: transport
// errors, non-2xx responses, missing credentials, empty completions.
// Callers test for it with errors.Is and apply their stage fallback.
var ErrUnavailable = errors.New("language model unavailable")

// ErrMissingCredential is wrapped together with ErrUnavailable when a hosted
// backend has no API key configured.
var ErrMissingCredential = errors.New("missing API credential")

// Options are the sampling parameters of a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Completer is the text-completion collaborator: a prompt in, text out.
// Implementations must never be assumed to return well-formed JSON.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Engine is a completion backend that can also report and prepare its
// readiness (Ollama, or any OpenAI-compatible server).
type Engine interface {
	Completer

	// Name identifies the backend in logs and status output.
	Name() string

	// Model is the model used for completions.
	Model() string

	// IsRunning reports whether the backend is reachable or configured.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
