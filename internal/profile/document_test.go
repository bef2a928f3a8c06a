package profile

import (
	"testing"

	"github.com/kalambet/vitals/internal/questions"
)

func TestCompose(t *testing.T) {
	got := Compose([]Section{
		{ID: "a", Title: "Basics", Content: "170cm\n"},
		{ID: "b", Title: "Empty", Content: "  "},
		{ID: "c", Content: "calm"},
	})
	want := "【Basics】\n170cm\n\n【c】\ncalm"
	if got != want {
		t.Errorf("Compose = %q, want %q", got, want)
	}
}

func TestParseDocument(t *testing.T) {
	cat, err := questions.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	doc := "Notes from my doctor\n\n" +
		"【1. Basic attributes and biometrics】\nHeight 170cm\nWeight 65kg\n\n" +
		"## Daily rhythm and sleep\nSleeps 7h\n\n" +
		"## Hobbies\nChess\n\n" +
		"# substances\nNon-smoker\n"

	sections, unmatched := ParseDocument(doc, cat)
	if len(sections) != 3 {
		t.Fatalf("sections = %+v", sections)
	}
	want := map[string]string{
		"basic_attributes": "Height 170cm\nWeight 65kg",
		"circadian":        "Sleeps 7h",
		"substances":       "Non-smoker",
	}
	for _, s := range sections {
		if want[s.ID] != s.Content {
			t.Errorf("section %s = %q, want %q", s.ID, s.Content, want[s.ID])
		}
		if s.Title == "" || s.Order == 0 {
			t.Errorf("section %s missing catalog metadata: %+v", s.ID, s)
		}
	}
	if len(unmatched) != 1 {
		t.Fatalf("unmatched = %q", unmatched)
	}
	if unmatched[0] != "Notes from my doctor\n## Hobbies\nChess" {
		t.Errorf("unmatched = %q", unmatched[0])
	}
}

func TestParseDocument_RoundTrip(t *testing.T) {
	cat, err := questions.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	in := []Section{{ID: "mental", Title: "9. Mental health and cognition", Content: "Calm", Order: 9}}
	out, unmatched := ParseDocument(Compose(in), cat)
	if len(unmatched) != 0 || len(out) != 1 || out[0].ID != "mental" || out[0].Content != "Calm" {
		t.Errorf("round trip = %+v, unmatched %q", out, unmatched)
	}
}

func TestExtractPDFText_Invalid(t *testing.T) {
	if _, err := ExtractPDFText([]byte("this is plain text, definitely not a pdf document")); err == nil {
		t.Error("expected error for non-pdf input")
	}
}
