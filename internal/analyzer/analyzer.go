package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/vitals/internal/engine"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
)

const (
	defaultMinProfileChars = 20
	defaultTimeout         = 45 * time.Second
)

var completionOptions = engine.Options{Temperature: 0.1, MaxTokens: 4096}

// Report is the outcome of one profile audit.
type Report struct {
	Issues []profile.Issue `json:"issues"`
	// Missing is every catalog question still unanswered, in ask order.
	Missing []questions.Question `json:"missing"`
	// AlreadyAnswered lists question ids the profile text answers that were
	// not recorded as answered before.
	AlreadyAnswered []string `json:"alreadyAnswered"`
}

// Config tunes the Analyzer. Zero values select defaults.
type Config struct {
	MinProfileChars int
	Timeout         time.Duration
}

// Analyzer audits profile text against the question bank once per session
// start.
type Analyzer struct {
	llm      engine.Completer
	catalog  *questions.Catalog
	minChars int
	timeout  time.Duration
}

func New(llm engine.Completer, cat *questions.Catalog, cfg Config) *Analyzer {
	a := &Analyzer{llm: llm, catalog: cat, minChars: cfg.MinProfileChars, timeout: cfg.Timeout}
	if a.minChars <= 0 {
		a.minChars = defaultMinProfileChars
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	return a
}

type output struct {
	Issues             *[]issueOutput `json:"issues"`
	AlreadyAnsweredIDs *[]string      `json:"alreadyAnsweredIds"`
}

type issueOutput struct {
	Type                profile.IssueType `json:"type"`
	SectionID           string            `json:"sectionId"`
	Description         string            `json:"description"`
	ExistingTexts       []string          `json:"existingTexts"`
	SuggestedResolution string            `json:"suggestedResolution"`
	SuggestedAction     *profile.Action   `json:"suggestedAction"`
}

// Analyze audits profileText. answered is the set of question ids already
// recorded as answered. It never fails: when the model cannot be used the
// result is flagged Fallback with no issues and the catalog minus answered as
// the missing list.
func (a *Analyzer) Analyze(ctx context.Context, profileText string, answered map[string]bool) engine.Result[Report] {
	unanswered := a.catalog.Missing(answered)
	base := Report{Issues: []profile.Issue{}, Missing: unanswered, AlreadyAnswered: []string{}}

	if utf8.RuneCountInString(strings.TrimSpace(profileText)) < a.minChars {
		return engine.Ok(base)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.llm.Complete(ctx, BuildPrompt(profileText, a.catalog, unanswered), completionOptions)
	if err != nil {
		slog.Warn("profile analysis unavailable, using recorded progress only", "stage", "analyzer", "error", err)
		return engine.Fallback(base, err)
	}

	var out output
	if err := engine.DecodeObject(raw, &out); err != nil {
		slog.Warn("profile analysis returned malformed output", "stage", "analyzer", "error", err)
		return engine.Fallback(base, err)
	}
	if out.Issues == nil || out.AlreadyAnsweredIDs == nil {
		err := fmt.Errorf("%w: issues and alreadyAnsweredIds are required", engine.ErrMalformedOutput)
		slog.Warn("profile analysis returned malformed output", "stage", "analyzer", "error", err)
		return engine.Fallback(base, err)
	}

	report := Report{Issues: a.validIssues(*out.Issues), AlreadyAnswered: []string{}}

	all := make(map[string]bool, len(answered))
	for id := range answered {
		all[id] = true
	}
	for _, id := range *out.AlreadyAnsweredIDs {
		if _, ok := a.catalog.Get(id); !ok || all[id] {
			continue
		}
		all[id] = true
		report.AlreadyAnswered = append(report.AlreadyAnswered, id)
	}
	report.Missing = a.catalog.Missing(all)

	slog.Debug("profile analysis done", "issues", len(report.Issues), "already_answered", len(report.AlreadyAnswered))
	return engine.Ok(report)
}

// validIssues drops issues with an unknown type or section. An invalid
// suggested action is dropped from its issue, keeping the issue itself.
func (a *Analyzer) validIssues(in []issueOutput) []profile.Issue {
	issues := make([]profile.Issue, 0, len(in))
	for _, is := range in {
		if !is.Type.Valid() {
			slog.Debug("dropping issue with unknown type", "type", is.Type)
			continue
		}
		if _, ok := a.catalog.Section(is.SectionID); !ok {
			slog.Debug("dropping issue with unknown section", "section_id", is.SectionID)
			continue
		}
		issue := profile.Issue{
			Type:                is.Type,
			SectionID:           is.SectionID,
			Description:         is.Description,
			ExistingTexts:       is.ExistingTexts,
			SuggestedResolution: is.SuggestedResolution,
		}
		if issue.ExistingTexts == nil {
			issue.ExistingTexts = []string{}
		}
		if act := is.SuggestedAction; act != nil {
			if act.SectionID == "" {
				act.SectionID = is.SectionID
			}
			_, known := a.catalog.Section(act.SectionID)
			if err := act.Validate(); err == nil && known && act.Type != profile.ActionNone {
				issue.SuggestedAction = act
			}
		}
		issues = append(issues, issue)
	}
	return issues
}
