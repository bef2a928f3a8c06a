package hearing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
)

type mockCompleter struct {
	response string
	err      error
	delay    time.Duration

	prompt string
	opts   engine.Options
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, opts engine.Options) (string, error) {
	m.prompt = prompt
	m.opts = opts
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

var heightQuestion = questions.Question{
	ID:              "1-1",
	SectionID:       "basic",
	Priority:        3,
	Question:        "What is your height and weight?",
	Intent:          "BMI",
	ExtractionHints: []string{"height", "weight"},
}

func TestRespond(t *testing.T) {
	llm := &mockCompleter{response: heightReply}
	a := New(llm, time.Second)

	res := a.Respond(context.Background(), PromptInput{Question: &heightQuestion, UserMessage: "170cm, 65kg"})
	if res.Fallback {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	if res.Value.Extracted == nil || len(res.Value.Extracted.ExtractedFacts) != 2 {
		t.Errorf("Extracted = %+v", res.Value.Extracted)
	}
	if llm.opts != completionOptions {
		t.Errorf("options = %+v", llm.opts)
	}
}

func TestRespond_FallbackRestatesQuestion(t *testing.T) {
	tests := []struct {
		name string
		llm  *mockCompleter
	}{
		{"unavailable", &mockCompleter{err: engine.ErrUnavailable}},
		{"timeout", &mockCompleter{response: heightReply, delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.llm, 20*time.Millisecond)
			res := a.Respond(context.Background(), PromptInput{Question: &heightQuestion, UserMessage: "170cm"})
			if !res.Fallback || res.Err == nil {
				t.Fatalf("expected fallback, got %+v", res)
			}
			if res.Value.Extracted != nil {
				t.Error("fallback turn carries extracted data")
			}
			if !strings.Contains(res.Value.Reply, heightQuestion.Question) {
				t.Errorf("Reply = %q, want question restated", res.Value.Reply)
			}
		})
	}
}

func TestRespond_EmptyVisibleReply(t *testing.T) {
	llm := &mockCompleter{response: "<!--SESSION_CONTROL: pause-->"}
	res := New(llm, time.Second).Respond(context.Background(), PromptInput{UserMessage: "bye"})
	if res.Value.Reply == "" || !res.Value.Pause {
		t.Errorf("turn = %+v", res.Value)
	}
}

func TestBuildTurnPrompt(t *testing.T) {
	next := questions.Question{ID: "2-1", Question: "Do you smoke?"}
	p := BuildTurnPrompt(PromptInput{
		Question:        &heightQuestion,
		SectionTitle:    "Basic attributes",
		SectionContent:  "Height 170cm",
		IsFirstQuestion: true,
		NextQuestion:    &next,
		History:         []Message{{Role: "assistant", Content: "What is your height and weight?"}},
		UserMessage:     "65kg",
	})
	for _, want := range []string{
		"Section: Basic attributes",
		"Question: What is your height and weight?",
		"Facts to extract: height, weight",
		"Height 170cm",
		"greet the user",
		`"Do you smoke?"`,
		`"questionId": "1-1"`,
		"assistant: What is your height and weight?",
		"[User message]\n65kg",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "ISSUE_DECISION") {
		t.Error("prompt has issue instructions without issues")
	}
}

func TestBuildTurnPrompt_Issues(t *testing.T) {
	issues := []profile.Issue{{
		Type:                profile.IssueConflict,
		SectionID:           "exercise",
		Description:         "exercise frequency contradicts",
		ExistingTexts:       []string{"Runs daily", "Does not exercise"},
		SuggestedResolution: "keep the newer statement",
		SuggestedAction:     &profile.Action{Type: profile.ActionDelete, SectionID: "exercise", TargetText: "Does not exercise"},
	}}
	p := BuildTurnPrompt(PromptInput{Question: &heightQuestion, Issues: issues, UserMessage: "yes"})
	for _, want := range []string{"[CONFLICT] exercise frequency contradicts", "Runs daily / Does not exercise", `delete "Does not exercise"`, "<!--ISSUE_DECISION"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildTurnPrompt_FreeForm(t *testing.T) {
	p := BuildTurnPrompt(PromptInput{UserMessage: "how is my sleep?"})
	if strings.Contains(p, "EXTRACTED_DATA") {
		t.Error("free-form prompt asks for extraction")
	}
	if !strings.Contains(p, "SESSION_CONTROL") {
		t.Error("free-form prompt lacks pause instruction")
	}
}
