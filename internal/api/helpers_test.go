package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/vitals/internal/analyzer"
	"github.com/kalambet/vitals/internal/editor"
	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/hearing"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/session"
	"github.com/kalambet/vitals/internal/storage"
)

const testToken = "test-token-12345"

// mockCompleter answers the hearing and editor stages with fixed replies and
// fails the analyzer.
type mockCompleter struct {
	mu      sync.Mutex
	hearing string
	editor  string
}

func (m *mockCompleter) Complete(_ context.Context, prompt string, _ engine.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.HasPrefix(prompt, "You are a health profile auditor"):
		return "", engine.ErrUnavailable
	case strings.HasPrefix(prompt, "You are a health profile editor"):
		return m.editor, nil
	default:
		return m.hearing, nil
	}
}

const ageReply = "Thanks! How tall are you?\n<!--EXTRACTED_DATA\n" +
	`{"questionId":"1-1","sectionId":"basic_attributes","rawAnswer":"35","extractedFacts":[{"hint":"age","value":"35","confidence":0.95}],"isSkipped":false,"needsClarification":false}` +
	"\nEXTRACTED_DATA-->"

func newTestService(t *testing.T, llm engine.Completer) (*session.Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := questions.Default()
	if err != nil {
		t.Fatalf("questions.Default: %v", err)
	}
	svc := session.NewService(session.Deps{
		Store:    store,
		Sections: profile.NewManager(store),
		Catalog:  cat,
		Analyzer: analyzer.New(llm, cat, analyzer.Config{}),
		Hearing:  hearing.New(llm, 0),
		Editor:   editor.New(llm, editor.Config{}),
	}, session.Config{RecordSkipped: true})
	return svc, store
}

func defaultCompleter() *mockCompleter {
	return &mockCompleter{
		hearing: ageReply,
		editor:  `{"actions":[{"type":"ADD","sectionId":"basic_attributes","newText":"Age: 35","reason":"answer","confidence":0.95}]}`,
	}
}

func setupHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	svc, store := newTestService(t, defaultCompleter())
	return NewHandler(Deps{Sessions: svc, Token: token, DefaultUser: "local"}), store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}
