package profile

import "testing"

func TestFindThemeLine(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		text     string
		wantLine string
		wantOK   bool
	}{
		{"smoking variants", "Height 170cm\nNon-smoker.", "smoking: does not smoke", "Non-smoker.", true},
		{"different theme", "Non-smoker.", "height: 170cm", "", false},
		{"empty content", "", "sleep: 7 hours", "", false},
		{"only stopwords", "Non-smoker.", "does not have", "", false},
		{"best score wins", "Sleeps badly.\nSleeps 7 hours, wakes at night.", "sleep duration: 7 hours, wakes twice at night", "Sleeps 7 hours, wakes at night.", true},
		{"trimmed line", "  Drinks wine on weekends  \n", "alcohol: drinks wine", "Drinks wine on weekends", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := FindThemeLine(tt.content, tt.text)
			if ok != tt.wantOK || line != tt.wantLine {
				t.Errorf("FindThemeLine = %q, %v; want %q, %v", line, ok, tt.wantLine, tt.wantOK)
			}
		})
	}
}
