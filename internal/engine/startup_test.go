package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	name      string
	model     string
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Complete(_ context.Context, _ string, _ Options) (string, error) {
	return "", nil
}
func (m *mockEngine) Name() string {
	if m.name == "" {
		return "ollama"
	}
	return m.name
}
func (m *mockEngine) Model() string                              { return m.model }
func (m *mockEngine) IsRunning(_ context.Context) bool             { return m.isRunning }
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "downloading", Total: 10, Completed: 5})
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockEngine{model: "llama3.1", isRunning: true, models: map[string]bool{"llama3.1": true}}
	if err := EnsureReady(context.Background(), m, io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{model: "llama3.1", isRunning: true, models: map[string]bool{}}
	var buf bytes.Buffer
	if err := EnsureReady(context.Background(), m, &buf); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "llama3.1" {
		t.Errorf("expected pull of llama3.1, got %v", m.pulled)
	}
	if !strings.Contains(buf.String(), "50%") {
		t.Errorf("progress not reported: %q", buf.String())
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{model: "llama3.1", isRunning: false}
	if err := EnsureReady(context.Background(), m, io.Discard); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestEnsureReady_OpenAIWithoutKey(t *testing.T) {
	m := &mockEngine{name: "openai", model: "gpt-4o-mini", isRunning: false}
	var buf bytes.Buffer
	if err := EnsureReady(context.Background(), m, &buf); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !strings.Contains(buf.String(), "fallback") {
		t.Errorf("output = %q", buf.String())
	}
}
