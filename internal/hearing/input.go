package hearing

import (
	"regexp"
	"strings"
	"unicode"
)

// maxInputRunes caps a single user message before it is embedded in a prompt.
const maxInputRunes = 4000

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<!--.*?-->`),
	regexp.MustCompile(`(?i)EXTRACTED_DATA|ISSUE_DECISION|MODE_SWITCH|SESSION_CONTROL`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)ignore\s*(?:all|previous|the\s+above)\s*(?:instructions?)?`),
	regexp.MustCompile(`<!--|-->`),
}

// Sanitize removes marker tokens, HTML comments and prompt-injection phrases
// from user text so it cannot forge structured blocks in the model output.
func Sanitize(input string) string {
	out := input
	for _, re := range injectionPatterns {
		out = re.ReplaceAllString(out, "")
	}
	out = strings.TrimSpace(out)
	if r := []rune(out); len(r) > maxInputRunes {
		out = string(r[:maxInputRunes])
	}
	return out
}

var pausePhrases = map[string]bool{
	"pause":                true,
	"stop":                 true,
	"quit":                 true,
	"exit":                 true,
	"save and stop":        true,
	"save and exit":        true,
	"save and quit":        true,
	"stop for now":         true,
	"pause for now":        true,
	"that's all for now":   true,
	"thats all for now":    true,
	"lets stop here":       true,
	"let's stop here":      true,
	"i'm done for now":     true,
	"im done for now":      true,
	"end session":          true,
	"end the session":      true,
	"let's continue later": true,
	"lets continue later":  true,
}

// IsPauseRequest reports whether msg is one of the short explicit stop
// phrases. Longer messages are left to the model's SESSION_CONTROL marker.
func IsPauseRequest(msg string) bool {
	norm := strings.ToLower(strings.TrimSpace(msg))
	norm = strings.TrimRightFunc(norm, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	})
	norm = strings.Join(strings.Fields(norm), " ")
	norm = strings.TrimPrefix(norm, "please ")
	norm = strings.TrimSuffix(norm, " please")
	return pausePhrases[norm]
}

// PauseAcknowledgement is the assistant message stored when a session pauses.
const PauseAcknowledgement = "Your answers so far are saved. We can pick up right where we left off whenever you come back."
