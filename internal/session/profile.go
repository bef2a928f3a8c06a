package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/vitals/internal/profile"
)

// ImportResult reports a profile document import.
type ImportResult struct {
	Updated   []string `json:"updated"`
	Unmatched []string `json:"unmatched"`
}

// Sections returns every catalog section with the user's content, empty when
// the user has not written it yet.
func (s *Service) Sections(userID string) ([]profile.Section, error) {
	stored, err := s.sections.Sections(userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]profile.Section, len(stored))
	for _, sec := range stored {
		byID[sec.ID] = sec
	}
	out := make([]profile.Section, 0, len(s.catalog.Sections()))
	for _, meta := range s.catalog.Sections() {
		sec, ok := byID[meta.ID]
		if !ok {
			sec = profile.Section{ID: meta.ID}
		}
		sec.Title = meta.Title
		sec.Order = meta.Order
		out = append(out, sec)
	}
	return out, nil
}

// SetSection replaces a section's content.
func (s *Service) SetSection(ctx context.Context, userID, sectionID, content string) (profile.Section, error) {
	meta, ok := s.catalog.Section(sectionID)
	if !ok {
		return profile.Section{}, fmt.Errorf("%w: %q", ErrUnknownSection, sectionID)
	}
	release, err := s.lock(ctx, userID)
	if err != nil {
		return profile.Section{}, err
	}
	defer release()

	sec := profile.Section{ID: meta.ID, Title: meta.Title, Content: strings.TrimSpace(content), Order: meta.Order}
	if err := s.sections.PutSection(userID, sec); err != nil {
		return profile.Section{}, err
	}
	return sec, nil
}

// ImportDocument merges a profile document into the user's sections. Lines
// already present in a section are not added again. Text under headings
// that match no section is returned unmatched and not stored.
func (s *Service) ImportDocument(ctx context.Context, userID, text string) (ImportResult, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return ImportResult{}, err
	}
	defer release()

	parsed, unmatched := profile.ParseDocument(text, s.catalog)
	res := ImportResult{Updated: []string{}, Unmatched: unmatched}
	if res.Unmatched == nil {
		res.Unmatched = []string{}
	}
	for _, in := range parsed {
		cur, _, err := s.sections.Section(userID, in.ID)
		if err != nil {
			return res, err
		}
		content := cur.Content
		for _, line := range strings.Split(in.Content, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			content, err = profile.Apply(content, profile.Action{Type: profile.ActionAdd, SectionID: in.ID, NewText: line, Confidence: 1})
			if err != nil {
				return res, fmt.Errorf("merging section %q: %w", in.ID, err)
			}
		}
		if content == cur.Content {
			continue
		}
		in.Content = content
		if err := s.sections.PutSection(userID, in); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, in.ID)
	}
	return res, nil
}
