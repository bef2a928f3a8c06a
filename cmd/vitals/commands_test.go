package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vitals/internal/api"
	"github.com/kalambet/vitals/internal/config"
	"github.com/kalambet/vitals/internal/session"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get(api.UserHeader),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"no session","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		userID:     "alice",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAPIClient_Headers(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want 'Bearer test-token'", r.Auth)
	}
	if r.User != "alice" {
		t.Errorf("user = %q, want alice", r.User)
	}
}

func TestAPIClient_NoTokenNoAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
		w.Write([]byte(`{"error":{"message":"session is paused","type":"conflict_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	resp, err := client.post(ctx, "/session/s1/turn", map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.StatusCode != 409 || apiErr.Type != "conflict_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "session is paused") {
		t.Errorf("error = %q, want the server message", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	resp, err := client.get(ctx, "/profile")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestCurrentSessionID(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /session": `{"session":{"id":"s-42","status":"active"},"progress":{"answered":1,"total":10}}`,
	})

	id, err := currentSessionID(ctx, ts.client())
	if err != nil {
		t.Fatalf("currentSessionID: %v", err)
	}
	if id != "s-42" {
		t.Errorf("id = %q, want s-42", id)
	}
}

func TestCurrentSessionID_NoSession(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := currentSessionID(ctx, ts.client())
	if err == nil {
		t.Fatal("expected error without a session")
	}
	if !strings.Contains(err.Error(), "session start") {
		t.Errorf("error = %q, want a hint to start a session", err.Error())
	}
}

func TestTurnRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /session/s-1/turn": `{"reply":"Thanks! How tall are you?","paused":false,
			"executedActions":[{"type":"ADD","sectionId":"basic_attributes","newText":"Age: 35","reason":"answer","confidence":0.9}],
			"pendingActions":[],"rejectedActions":[],"progress":{"answered":1,"total":10,"percent":10}}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/session/s-1/turn", map[string]string{"message": "I'm 35"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res session.TurnResult
	if err := decodeJSON(resp, &res); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(res.ExecutedActions) != 1 || res.ExecutedActions[0].NewText != "Age: 35" {
		t.Errorf("executed = %+v", res.ExecutedActions)
	}
	if res.Progress.Percent != 10 {
		t.Errorf("percent = %d, want 10", res.Progress.Percent)
	}
	if got := ts.requests[0].Body; got != `{"message":"I'm 35"}` {
		t.Errorf("body = %s", got)
	}
}

func TestSayCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"say"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestImportRequest(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "profile.md")
	if err := os.WriteFile(txt, []byte("# Sleep\nBed at 23:00"), 0o600); err != nil {
		t.Fatal(err)
	}
	req, err := importRequest(txt)
	if err != nil {
		t.Fatalf("importRequest(md): %v", err)
	}
	if req.Type != "text" || req.Content != "# Sleep\nBed at 23:00" {
		t.Errorf("md request = %+v", req)
	}

	pdf := filepath.Join(dir, "Report.PDF")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	req, err = importRequest(pdf)
	if err != nil {
		t.Fatalf("importRequest(pdf): %v", err)
	}
	if req.Type != "pdf" {
		t.Errorf("type = %q, want pdf", req.Type)
	}
	if req.Content != base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")) {
		t.Errorf("content = %q, want base64", req.Content)
	}

	if _, err := importRequest(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent, width int
		want           string
	}{
		{0, 4, "░░░░"},
		{50, 4, "██░░"},
		{100, 4, "████"},
		{130, 4, "████"},
		{-5, 4, "░░░░"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.percent, tt.width); got != tt.want {
			t.Errorf("progressBar(%d, %d) = %q, want %q", tt.percent, tt.width, got, tt.want)
		}
	}
}

func TestActionText(t *testing.T) {
	tests := []struct {
		target, newText, want string
	}{
		{"", "Age: 35", `"Age: 35"`},
		{"Height: 170 cm", "Height: 172 cm", `"Height: 170 cm" -> "Height: 172 cm"`},
		{"Smokes", "", `"Smokes"`},
	}
	for _, tt := range tests {
		if got := actionText(tt.target, tt.newText); got != tt.want {
			t.Errorf("actionText(%q, %q) = %s, want %s", tt.target, tt.newText, got, tt.want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Ollama.Model = "qwen2.5"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Key == "openai.api_key" {
			t.Error("secret openai.api_key must not be listed")
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}
