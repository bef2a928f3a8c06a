package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and its model is available.
// A missing Ollama model is pulled with progress written to w. A hosted
// backend without a credential is reported but not treated as fatal: every
// stage has a deterministic fallback.
func EnsureReady(ctx context.Context, e Engine, w io.Writer) error {
	if e.Name() == "openai" {
		if !e.IsRunning(ctx) {
			fmt.Fprintf(w, "openai: no API key configured; conversation runs in fallback mode\n")
			return nil
		}
		fmt.Fprintf(w, "model %s: ready\n", e.Model())
		return nil
	}

	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s is not running; please ensure the backend is started", e.Name())
	}

	model := e.Model()
	if model == "" {
		return fmt.Errorf("no model configured for %s", e.Name())
	}
	if e.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := e.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
