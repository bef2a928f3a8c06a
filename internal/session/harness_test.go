package session

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/vitals/internal/analyzer"
	"github.com/kalambet/vitals/internal/editor"
	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/hearing"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/storage"
)

type stage string

const (
	stageAnalyzer stage = "analyzer"
	stageHearing  stage = "hearing"
	stageEditor   stage = "editor"
)

func stageOf(prompt string) stage {
	switch {
	case strings.HasPrefix(prompt, "You are a health profile auditor"):
		return stageAnalyzer
	case strings.HasPrefix(prompt, "You are a health profile editor"):
		return stageEditor
	default:
		return stageHearing
	}
}

// scriptedCompleter answers each stage from its own queue. The last reply of
// a queue repeats once the queue is drained.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies map[stage][]string
	errs    map[stage]error
	calls   map[stage]int
	prompts map[stage][]string
	onCall  func(stage)
}

func newScripted() *scriptedCompleter {
	return &scriptedCompleter{
		replies: make(map[stage][]string),
		errs:    make(map[stage]error),
		calls:   make(map[stage]int),
		prompts: make(map[stage][]string),
	}
}

func (c *scriptedCompleter) script(st stage, replies ...string) *scriptedCompleter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[st] = append(c.replies[st], replies...)
	return c
}

func (c *scriptedCompleter) fail(st stage, err error) *scriptedCompleter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[st] = err
	return c
}

func (c *scriptedCompleter) callCount(st stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[st]
}

func (c *scriptedCompleter) lastPrompt(st stage) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.prompts[st]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string, _ engine.Options) (string, error) {
	st := stageOf(prompt)
	c.mu.Lock()
	c.calls[st]++
	c.prompts[st] = append(c.prompts[st], prompt)
	onCall := c.onCall
	err := c.errs[st]
	var reply string
	if q := c.replies[st]; len(q) > 0 {
		reply = q[0]
		if len(q) > 1 {
			c.replies[st] = q[1:]
		}
	}
	c.mu.Unlock()

	if onCall != nil {
		onCall(st)
	}
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", engine.ErrUnavailable
	}
	return reply, nil
}

type harness struct {
	svc      *Service
	store    *storage.Store
	sections *profile.Manager
	catalog  *questions.Catalog
	llm      *scriptedCompleter
}

func newHarness(t *testing.T, llm *scriptedCompleter, cfg Config) *harness {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cat, err := questions.Default()
	if err != nil {
		t.Fatalf("questions.Default: %v", err)
	}
	mgr := profile.NewManager(st)
	svc := NewService(Deps{
		Store:    st,
		Sections: mgr,
		Catalog:  cat,
		Analyzer: analyzer.New(llm, cat, analyzer.Config{}),
		Hearing:  hearing.New(llm, 0),
		Editor:   editor.New(llm, editor.Config{}),
	}, cfg)
	return &harness{svc: svc, store: st, sections: mgr, catalog: cat, llm: llm}
}

func (h *harness) start(t *testing.T, userID string) StartResult {
	t.Helper()
	res, err := h.svc.Start(context.Background(), userID)
	if err != nil {
		t.Fatalf("Start(%s): %v", userID, err)
	}
	return res
}

func (h *harness) turn(t *testing.T, userID, sessionID, msg string) TurnResult {
	t.Helper()
	res, err := h.svc.Turn(context.Background(), userID, sessionID, msg)
	if err != nil {
		t.Fatalf("Turn(%q): %v", msg, err)
	}
	return res
}

func (h *harness) sectionContent(t *testing.T, userID, sectionID string) string {
	t.Helper()
	sec, _, err := h.sections.Section(userID, sectionID)
	if err != nil {
		t.Fatalf("Section(%s): %v", sectionID, err)
	}
	return sec.Content
}

func (h *harness) messageCount(t *testing.T, sessionID string) int {
	t.Helper()
	msgs, err := h.store.RecentMessages(sessionID, 1000)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	return len(msgs)
}

// hearingReply builds a hearing completion with an EXTRACTED_DATA block.
func hearingReply(visible, qid, section, raw string, facts string) string {
	return visible + "\n<!--EXTRACTED_DATA\n" +
		`{"questionId":"` + qid + `","sectionId":"` + section + `","rawAnswer":"` + raw +
		`","extractedFacts":` + facts + `,"isSkipped":false,"needsClarification":false}` +
		"\nEXTRACTED_DATA-->"
}
