package profile

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/vitals/internal/questions"
)

// Compose renders non-empty sections as one document of 【title】 blocks in
// section order.
func Compose(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(&b, "【%s】\n%s", title, content)
	}
	return b.String()
}

var headingRe = regexp.MustCompile(`^\s*(?:【([^】]+)】|#{1,2}\s+(.+?))\s*$`)

var numberingRe = regexp.MustCompile(`^\s*\d+[.)]?\s*`)

// ParseDocument splits an imported profile document into catalog sections.
// Headings are 【title】 lines or markdown # / ## lines and are matched
// against section titles and ids. Text under headings that match no section,
// or before the first heading, is returned in unmatched.
func ParseDocument(text string, cat *questions.Catalog) (sections []Section, unmatched []string) {
	byKey := make(map[string]questions.Section)
	for _, s := range cat.Sections() {
		byKey[normalizeTitle(s.Title)] = s
		byKey[normalizeTitle(s.ID)] = s
	}

	contents := make(map[string]*strings.Builder)
	var order []string
	var current string
	var orphan strings.Builder

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			title := m[1]
			if title == "" {
				title = m[2]
			}
			if s, ok := byKey[normalizeTitle(title)]; ok {
				current = s.ID
				if contents[current] == nil {
					contents[current] = &strings.Builder{}
					order = append(order, current)
				}
				continue
			}
			current = ""
			orphan.WriteString(line + "\n")
			continue
		}
		if current == "" {
			if strings.TrimSpace(line) != "" {
				orphan.WriteString(line + "\n")
			}
			continue
		}
		contents[current].WriteString(line + "\n")
	}

	for _, id := range order {
		content := strings.TrimSpace(contents[id].String())
		if content == "" {
			continue
		}
		meta, _ := cat.Section(id)
		sections = append(sections, Section{ID: id, Title: meta.Title, Content: content, Order: meta.Order})
	}
	if rest := strings.TrimSpace(orphan.String()); rest != "" {
		unmatched = append(unmatched, rest)
	}
	return sections, unmatched
}

func normalizeTitle(s string) string {
	s = numberingRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ExtractPDFText returns the plain text of a PDF document.
func ExtractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}
