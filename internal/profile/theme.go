package profile

import (
	"strings"
	"unicode"
)

// stemLen is the number of leading runes two words must share to count as
// the same theme ("smoker", "smoking", "smoke").
const stemLen = 4

var stopwords = map[string]bool{
	"about": true, "also": true, "been": true, "does": true, "doesn": true,
	"from": true, "have": true, "into": true, "more": true, "less": true,
	"only": true, "other": true, "some": true, "than": true, "that": true,
	"them": true, "then": true, "there": true, "they": true, "this": true,
	"very": true, "were": true, "what": true, "when": true, "which": true,
	"will": true, "with": true, "would": true, "your": true, "usually": true,
	"year": true, "years": true, "week": true, "weeks": true, "times": true,
	"daily": true, "currently": true, "around": true, "approximately": true,
}

// stems returns the distinct theme stems of text: lowercase words of at least
// stemLen letters, cut to stemLen runes, skipping stopwords and anything
// containing a digit.
func stems(text string) map[string]bool {
	out := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopwords[w] || strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			continue
		}
		r := []rune(w)
		if len(r) < stemLen {
			continue
		}
		out[string(r[:stemLen])] = true
	}
	return out
}

// FindThemeLine returns the line of content that talks about the same theme
// as text, trimmed of surrounding whitespace so it is a literal substring of
// content. The line sharing the most stems wins; ties go to the earliest.
func FindThemeLine(content, text string) (string, bool) {
	want := stems(text)
	if len(want) == 0 {
		return "", false
	}

	best, bestScore := "", 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		score := 0
		for s := range stems(line) {
			if want[s] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = line, score
		}
	}
	return best, bestScore > 0
}
