package hearing

import (
	"fmt"
	"strings"

	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
)

// Message is one prior conversation message embedded in a turn prompt.
type Message struct {
	Role    string
	Content string
}

// PromptInput is everything a single hearing turn is built from.
type PromptInput struct {
	// Question is the one question in play. Nil means every question is
	// answered and the turn is free-form chat.
	Question       *questions.Question
	SectionTitle   string
	SectionContent string
	// Issues are narrated and confirmed before the question when non-empty.
	Issues          []profile.Issue
	IsFirstQuestion bool
	NextQuestion    *questions.Question
	History         []Message
	UserMessage     string
}

const rolePrompt = `You are the vitals assistant. You are talking with the user to build up their personal health profile, one question at a time.`

const rules = `Rules:
1. Ask exactly ONE question per reply.
2. Ask only about the current question's facts to extract. Ignore every other topic.
3. Do not ask for anything already present in the existing section content.
4. If the user says "skip", "don't know" or declines, set isSkipped to true and move on.
5. If the user corrects an earlier answer, extract the corrected values.
6. If the answer is only one or two words where more detail is needed, set needsClarification to true and ask a short follow-up about the same question.
7. If the user wants to stop, save or end the session, acknowledge it and append <!--SESSION_CONTROL: pause-->.
8. If the user wants data analysis or help using the app instead, append <!--MODE_SWITCH: data_analysis--> or <!--MODE_SWITCH: help-->.`

// FormatIssues renders issues as a numbered, type-labelled list with the
// offending text and the suggested resolution.
func FormatIssues(issues []profile.Issue) string {
	var sb strings.Builder
	for i, is := range issues {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, is.Type, is.Description)
		if len(is.ExistingTexts) > 0 {
			fmt.Fprintf(&sb, "   Text: %s\n", strings.Join(is.ExistingTexts, " / "))
		}
		if is.SuggestedResolution != "" {
			fmt.Fprintf(&sb, "   Suggestion: %s\n", is.SuggestedResolution)
		}
		if a := is.SuggestedAction; a != nil {
			switch a.Type {
			case profile.ActionDelete:
				fmt.Fprintf(&sb, "   Proposed change: delete %q\n", a.TargetText)
			case profile.ActionUpdate:
				fmt.Fprintf(&sb, "   Proposed change: %q -> %q\n", a.TargetText, a.NewText)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func issueInstructions(issues []profile.Issue) string {
	return `[Profile clean-up under review]
These problems were found in the user's profile and have been shown to them:
` + FormatIssues(issues) + `

Interpret the user's message as a reply to this proposal:
- approve ("yes", "ok", "go ahead"): confirm the changes will be made.
- reject ("no", "skip", "leave it"): confirm nothing changes and move on.
- custom ("change it to ...", "keep the first one"): describe the change you will make.
- clarify (a question about the proposal): explain and ask again.
Then, if the decision is not clarify, continue with the current question.

After your reply, append exactly:
<!--ISSUE_DECISION
{"decision": "approve" | "reject" | "custom" | "clarify", "customAction": null | {"type": "UPDATE" | "DELETE", "sectionId": "<section id>", "targetText": "<exact profile text>", "newText": "<new text, UPDATE only>", "reason": "<why>", "confidence": 0.0}}
ISSUE_DECISION-->`
}

func extractionFormat(q *questions.Question) string {
	return fmt.Sprintf(`After your reply, append exactly one block:
<!--EXTRACTED_DATA
{
  "questionId": %q,
  "sectionId": %q,
  "rawAnswer": "<short summary of what the user said>",
  "extractedFacts": [{"hint": "<fact to extract>", "value": "<value>", "confidence": 0.0}],
  "isSkipped": false,
  "needsClarification": false
}
EXTRACTED_DATA-->
Use an empty extractedFacts array when the user has not answered the question.`, q.ID, q.SectionID)
}

// BuildTurnPrompt renders the prompt for one hearing turn.
func BuildTurnPrompt(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString(rolePrompt)
	sb.WriteString("\n\n")

	if len(in.Issues) > 0 {
		sb.WriteString(issueInstructions(in.Issues))
		sb.WriteString("\n\n")
	}

	if q := in.Question; q != nil {
		title := in.SectionTitle
		if title == "" {
			title = q.SectionID
		}
		fmt.Fprintf(&sb, "[Current question]\nSection: %s\nQuestion: %s\nIntent: %s\nFacts to extract: %s\n\n",
			title, q.Question, q.Intent, strings.Join(q.ExtractionHints, ", "))

		if strings.TrimSpace(in.SectionContent) != "" {
			fmt.Fprintf(&sb, "[Existing section content]\n%s\nDo not ask for anything already written above.\n\n", in.SectionContent)
		} else {
			sb.WriteString("[Existing section content]\n(empty)\n\n")
		}

		if in.IsFirstQuestion {
			sb.WriteString("This is the first question of the conversation: greet the user briefly before asking.\n\n")
		} else {
			sb.WriteString("Briefly acknowledge the user's previous answer before continuing.\n\n")
		}
		if n := in.NextQuestion; n != nil {
			fmt.Fprintf(&sb, "[Next question, for reference only]\nOnce this question is answered, the conversation moves on to: %q. Do not ask it yet.\n\n", n.Question)
		}

		sb.WriteString(rules)
		sb.WriteString("\n\n")
		sb.WriteString(extractionFormat(q))
	} else {
		sb.WriteString("Every profile question has been answered. Chat freely and helpfully about the user's health profile. Do not invent new questionnaire items.\n")
		sb.WriteString("If the user wants to stop, acknowledge it and append <!--SESSION_CONTROL: pause-->.")
	}

	if len(in.History) > 0 {
		sb.WriteString("\n\n[Conversation so far]\n")
		for _, m := range in.History {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&sb, "\n\n[User message]\n%s\n\nWrite your reply to the user message now.", in.UserMessage)
	return sb.String()
}
