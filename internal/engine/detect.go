package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "ollama" or "openai"
	OllamaBaseURL string
	OllamaModel   string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Detect returns the configured completion backend. An empty Backend selects
// openai when an API key is present and ollama otherwise.
func Detect(cfg DetectConfig) (Engine, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "ollama"
		if cfg.OpenAIKey != "" {
			backend = "openai"
		}
	}
	switch backend {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case "openai":
		return NewOpenAIEngine(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q (want ollama or openai)", backend)
	}
}
