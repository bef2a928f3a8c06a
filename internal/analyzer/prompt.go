package analyzer

import (
	"fmt"
	"strings"

	"github.com/kalambet/vitals/internal/questions"
)

const promptHeader = `You are a health profile auditor. Perform BOTH tasks below and answer with ONLY one JSON object, no prose and no markdown.

Task 1: find problems in the profile. Read it line by line and report:
- DUPLICATE: the same fact stated more than once, in one section or across sections.
- CONFLICT: different values for the same theme (e.g. "exercises daily" and "does not exercise").
- OUTDATED: statements that are clearly stale (old dates, past conditions written as current).

Task 2: decide which of the listed unanswered questions the profile already answers, even partially.

Section ids (use ONLY these ids, never titles):
%s`

const promptFooter = `Output format:
{
  "issues": [
    {
      "type": "DUPLICATE" | "CONFLICT" | "OUTDATED",
      "sectionId": "<section id>",
      "description": "<which lines are affected and why>",
      "existingTexts": ["<exact text from the profile>", "..."],
      "suggestedResolution": "<how to fix it>",
      "suggestedAction": {
        "type": "UPDATE" | "DELETE",
        "sectionId": "<section id>",
        "targetText": "<exact text from the profile>",
        "newText": "<replacement, UPDATE only>",
        "reason": "<why>",
        "confidence": 0.0
      }
    }
  ],
  "alreadyAnsweredIds": ["<question id>"]
}
suggestedAction is optional. Use an empty issues array only when nothing is wrong.`

// BuildPrompt renders the single analysis prompt: the closed section id
// vocabulary, the profile text and the unanswered questions.
func BuildPrompt(profileText string, cat *questions.Catalog, unanswered []questions.Question) string {
	var ids strings.Builder
	for _, s := range cat.Sections() {
		fmt.Fprintf(&ids, "%q = %s\n", s.ID, s.Title)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, promptHeader, ids.String())
	sb.WriteString("\n[Profile]\n")
	sb.WriteString(profileText)
	sb.WriteString("\n\n[Unanswered questions] (id|section|priority|question|facts to extract)\n")
	for _, q := range unanswered {
		fmt.Fprintf(&sb, "%s|%s|P%d|%s|%s\n", q.ID, q.SectionID, q.Priority, q.Question, strings.Join(q.ExtractionHints, ", "))
	}
	sb.WriteString("\n")
	sb.WriteString(promptFooter)
	return sb.String()
}
