package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/profile"
)

const (
	defaultExtractionFloor = 0.7
	defaultTimeout         = 45 * time.Second

	// fallbackConfidence is attached to the heuristic ADD so it clears the
	// default auto-apply threshold.
	fallbackConfidence = 0.85
)

var completionOptions = engine.Options{Temperature: 0.1, MaxTokens: 2048}

// Input is one editor request: the facts of a turn and the section they
// belong to.
type Input struct {
	Extracted      profile.ExtractedData
	SectionTitle   string
	SectionContent string
}

// Output is the editor's decision. AnsweredQuestionID is empty when the
// question must stay outstanding.
type Output struct {
	Actions            []profile.Action
	AnsweredQuestionID string
}

// Config tunes the Editor. Zero values select defaults.
type Config struct {
	ExtractionFloor float64
	Timeout         time.Duration
}

// Editor turns extracted facts into profile actions.
type Editor struct {
	llm     engine.Completer
	floor   float64
	timeout time.Duration
}

func New(llm engine.Completer, cfg Config) *Editor {
	e := &Editor{llm: llm, floor: cfg.ExtractionFloor, timeout: cfg.Timeout}
	if e.floor <= 0 {
		e.floor = defaultExtractionFloor
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	return e
}

type output struct {
	Actions *[]profile.Action `json:"actions"`
}

// GenerateActions decides how in.Extracted changes the section. It never
// fails: when the model cannot be used the facts above the extraction floor
// are written as one ADD and the result is flagged Fallback. Either way an
// ADD whose line repeats the theme of an existing line becomes an UPDATE of
// that line.
func (e *Editor) GenerateActions(ctx context.Context, in Input) engine.Result[Output] {
	x := in.Extracted
	switch {
	case x.IsSkipped:
		return engine.Ok(none(x.SectionID, "user skipped the question", x.QuestionID))
	case x.NeedsClarification:
		return engine.Ok(none(x.SectionID, "answer needs clarification", ""))
	case len(x.ExtractedFacts) == 0:
		return engine.Ok(none(x.SectionID, "no facts extracted", ""))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	actions, err := e.callModel(ctx, in)
	if err != nil {
		slog.Warn("profile editor unavailable, using heuristic", "stage", "editor", "question_id", x.QuestionID, "error", err)
		return engine.Fallback(e.heuristic(in), err)
	}

	actions = dedupe(actions, in.SectionContent)
	if len(actions) == 0 {
		return engine.Ok(none(x.SectionID, "profile already up to date", x.QuestionID))
	}
	return engine.Ok(Output{Actions: actions, AnsweredQuestionID: x.QuestionID})
}

func (e *Editor) callModel(ctx context.Context, in Input) ([]profile.Action, error) {
	raw, err := e.llm.Complete(ctx, BuildPrompt(in), completionOptions)
	if err != nil {
		return nil, err
	}

	var out output
	if err := engine.DecodeObject(raw, &out); err != nil {
		return nil, err
	}
	if out.Actions == nil {
		return nil, fmt.Errorf("%w: actions is required", engine.ErrMalformedOutput)
	}

	var actions []profile.Action
	for _, a := range *out.Actions {
		if a.Type == profile.ActionNone {
			continue
		}
		// The model may only edit the section the question belongs to.
		a.SectionID = in.Extracted.SectionID
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrMalformedOutput, err)
		}
		fixed, ok := retarget(a, in.SectionContent)
		if !ok {
			slog.Warn("dropping edit of missing text", "stage", "editor", "question_id", in.Extracted.QuestionID,
				"type", a.Type, "target", a.TargetText)
			continue
		}
		actions = append(actions, fixed)
	}
	return actions, nil
}

// retarget points an UPDATE or DELETE whose target is not in content at text
// that is. An UPDATE moves to the line sharing its theme, or becomes an ADD
// when no line does. A DELETE of missing text has nothing to remove and is
// dropped (ok is false).
func retarget(a profile.Action, content string) (profile.Action, bool) {
	if a.Type != profile.ActionUpdate && a.Type != profile.ActionDelete {
		return a, true
	}
	if profile.HasTarget(content, a.TargetText) {
		return a, true
	}
	if a.Type == profile.ActionDelete {
		return a, false
	}
	if line, ok := profile.FindThemeLine(content, a.TargetText+"\n"+a.NewText); ok {
		a.TargetText = line
		return a, true
	}
	a.Type = profile.ActionAdd
	a.TargetText = ""
	return a, true
}

// heuristic writes every fact at or above the extraction floor as one ADD.
func (e *Editor) heuristic(in Input) Output {
	x := in.Extracted
	var lines []string
	for _, f := range x.ExtractedFacts {
		if f.Confidence >= e.floor {
			lines = append(lines, fmt.Sprintf("%s: %s", f.Hint, f.Value))
		}
	}
	if len(lines) == 0 {
		return none(x.SectionID, "no confident facts", "")
	}

	add := profile.Action{
		Type:       profile.ActionAdd,
		SectionID:  x.SectionID,
		NewText:    strings.Join(lines, "\n"),
		Reason:     fmt.Sprintf("answer to question %s", x.QuestionID),
		Confidence: fallbackConfidence,
	}
	actions := dedupe([]profile.Action{add}, in.SectionContent)
	if len(actions) == 0 {
		return none(x.SectionID, "profile already up to date", x.QuestionID)
	}
	return Output{Actions: actions, AnsweredQuestionID: x.QuestionID}
}

func none(sectionID, reason, answered string) Output {
	return Output{
		Actions:            []profile.Action{{Type: profile.ActionNone, SectionID: sectionID, Reason: reason, Confidence: 1}},
		AnsweredQuestionID: answered,
	}
}

// dedupe rewrites ADD actions so no line restates a theme the section
// already covers: such lines become an UPDATE of the matching existing line.
// Lines already present verbatim are dropped.
func dedupe(actions []profile.Action, content string) []profile.Action {
	if strings.TrimSpace(content) == "" {
		return actions
	}

	var out []profile.Action
	for _, a := range actions {
		if a.Type != profile.ActionAdd {
			out = append(out, a)
			continue
		}

		var fresh []string
		updates := make(map[string][]string)
		var targets []string
		for _, line := range strings.Split(a.NewText, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.Contains(content, line) {
				continue
			}
			target, ok := profile.FindThemeLine(content, line)
			if !ok {
				fresh = append(fresh, line)
				continue
			}
			if _, seen := updates[target]; !seen {
				targets = append(targets, target)
			}
			updates[target] = append(updates[target], line)
		}

		for _, target := range targets {
			out = append(out, profile.Action{
				Type:       profile.ActionUpdate,
				SectionID:  a.SectionID,
				TargetText: target,
				NewText:    strings.Join(updates[target], "; "),
				Reason:     a.Reason,
				Confidence: a.Confidence,
			})
		}
		if len(fresh) > 0 {
			a.NewText = strings.Join(fresh, "\n")
			out = append(out, a)
		}
	}
	return out
}

// BuildPrompt renders the editor prompt for in.
func BuildPrompt(in Input) string {
	facts, _ := json.MarshalIndent(in.Extracted.ExtractedFacts, "", "  ")
	content := in.SectionContent
	if strings.TrimSpace(content) == "" {
		content = "(empty)"
	}
	title := in.SectionTitle
	if title == "" {
		title = in.Extracted.SectionID
	}

	return fmt.Sprintf(`You are a health profile editor. Turn the extracted facts into edits of one profile section. Answer with ONLY one JSON object.

[Existing section content: %s]
%s

[Extracted facts]
Question id: %s
User answer: %s
Facts:
%s

Rules:
1. If the section has nothing on a fact's theme, use ADD.
2. If the section already has a line on the same theme, use UPDATE: targetText is that exact line copied verbatim, newText replaces it.
3. Never ADD a statement that duplicates an existing one.
4. newText is short natural prose, not a raw key/value dump.
5. Give every action a confidence between 0 and 1.

Output format:
{"actions": [{"type": "ADD" | "UPDATE", "sectionId": %q, "targetText": "<UPDATE only>", "newText": "<text>", "reason": "<why>", "confidence": 0.0}]}`,
		title, content, in.Extracted.QuestionID, in.Extracted.RawAnswer, facts, in.Extracted.SectionID)
}
