package profile

import (
	"fmt"
	"time"
)

// Section is one topical bucket of a user's profile holding free-form text.
type Section struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// IssueType classifies a problem found in existing profile text.
type IssueType string

const (
	IssueDuplicate IssueType = "DUPLICATE"
	IssueConflict  IssueType = "CONFLICT"
	IssueOutdated  IssueType = "OUTDATED"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueDuplicate, IssueConflict, IssueOutdated:
		return true
	}
	return false
}

// Issue is a duplicate, contradictory or stale statement found by the
// analyzer. SuggestedAction, when set, is only executed after the user
// confirms it.
type Issue struct {
	Type                IssueType `json:"type"`
	SectionID           string    `json:"sectionId"`
	Description         string    `json:"description"`
	ExistingTexts       []string  `json:"existingTexts"`
	SuggestedResolution string    `json:"suggestedResolution"`
	SuggestedAction     *Action   `json:"suggestedAction,omitempty"`
}

// ActionType is the kind of mutation an Action performs on a section.
type ActionType string

const (
	ActionAdd    ActionType = "ADD"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
	ActionNone   ActionType = "NONE"
)

// Action is a single textual mutation of one section. TargetText must be a
// literal substring of the current section content for UPDATE and DELETE.
type Action struct {
	Type       ActionType `json:"type"`
	SectionID  string     `json:"sectionId"`
	TargetText string     `json:"targetText,omitempty"`
	NewText    string     `json:"newText,omitempty"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// Validate checks the fields each action type requires. It does not look at
// section content; see Apply for that.
func (a Action) Validate() error {
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidAction, a.Confidence)
	}
	switch a.Type {
	case ActionNone:
		return nil
	case ActionAdd:
		if a.NewText == "" {
			return fmt.Errorf("%w: ADD without newText", ErrInvalidAction)
		}
	case ActionUpdate:
		if a.TargetText == "" || a.NewText == "" {
			return fmt.Errorf("%w: UPDATE needs targetText and newText", ErrInvalidAction)
		}
	case ActionDelete:
		if a.TargetText == "" {
			return fmt.Errorf("%w: DELETE without targetText", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	if a.SectionID == "" {
		return fmt.Errorf("%w: %s without sectionId", ErrInvalidAction, a.Type)
	}
	return nil
}

// Fact is one named value extracted from a user's answer.
type Fact struct {
	Hint       string  `json:"hint"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractedData is what the hearing agent pulled out of one user reply.
type ExtractedData struct {
	QuestionID         string `json:"questionId"`
	SectionID          string `json:"sectionId"`
	RawAnswer          string `json:"rawAnswer"`
	ExtractedFacts     []Fact `json:"extractedFacts"`
	IsSkipped          bool   `json:"isSkipped"`
	NeedsClarification bool   `json:"needsClarification"`
}
