package session

import (
	"encoding/json"
	"time"

	"github.com/kalambet/vitals/internal/hearing"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/storage"
)

// View is the caller-facing shape of a session.
type View struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	CurrentPriority   int             `json:"currentPriority"`
	CurrentSectionID  string          `json:"currentSectionId,omitempty"`
	CurrentQuestionID string          `json:"currentQuestionId,omitempty"`
	PendingIssues     []profile.Issue `json:"pendingIssues"`
	IssuesReviewed    bool            `json:"issuesReviewed"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type MessageView struct {
	ID         int64     `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	QuestionID string    `json:"questionId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SectionProgress counts answered questions of one section.
type SectionProgress struct {
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
	Answered  int    `json:"answered"`
	Total     int    `json:"total"`
}

// Progress is the share of catalog questions answered.
type Progress struct {
	Answered int               `json:"answered"`
	Total    int               `json:"total"`
	Percent  int               `json:"percent"`
	Sections []SectionProgress `json:"sections"`
}

// StartResult is returned by Start.
type StartResult struct {
	Session      View                 `json:"session"`
	Resumed      bool                 `json:"resumed"`
	Message      string               `json:"message"`
	Issues       []profile.Issue      `json:"issues"`
	Missing      []questions.Question `json:"missing"`
	Progress     Progress             `json:"progress"`
	NextQuestion *questions.Question  `json:"nextQuestion"`
	// AnalyzerFallback is set when the profile audit could not use the model.
	AnalyzerFallback bool `json:"analyzerFallback"`
}

// TurnResult is returned by Turn.
type TurnResult struct {
	Reply           string               `json:"reply"`
	Paused          bool                 `json:"paused"`
	ExecutedActions []profile.Action     `json:"executedActions"`
	PendingActions  []PendingAction      `json:"pendingActions"`
	RejectedActions []RejectedAction     `json:"rejectedActions"`
	NextQuestion    *questions.Question  `json:"nextQuestion"`
	Progress        Progress             `json:"progress"`
	Mode            hearing.Mode         `json:"mode,omitempty"`
	Fallback        bool                 `json:"fallback"`
}

// Summary is returned by Get.
type Summary struct {
	Session        View                `json:"session"`
	Progress       Progress            `json:"progress"`
	NextQuestion   *questions.Question `json:"nextQuestion"`
	Messages       []MessageView       `json:"messages"`
	PendingActions []PendingAction     `json:"pendingActions"`
}

// QuestionStatus is a catalog question with the user's answered flag.
type QuestionStatus struct {
	questions.Question
	Answered bool `json:"answered"`
}

func toView(s storage.Session) View {
	return View{
		ID:                s.ID,
		Status:            s.Status,
		CurrentPriority:   s.CurrentPriority,
		CurrentSectionID:  s.CurrentSectionID,
		CurrentQuestionID: s.CurrentQuestionID,
		PendingIssues:     decodeIssues(s.PendingIssues),
		IssuesReviewed:    s.IssuesReviewed,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toMessageViews(msgs []storage.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{ID: m.ID, Role: m.Role, Content: m.Content, QuestionID: m.QuestionID, CreatedAt: m.CreatedAt})
	}
	return out
}

func encodeIssues(issues []profile.Issue) string {
	if len(issues) == 0 {
		return "[]"
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeIssues tolerates a corrupt column by treating it as no issues.
func decodeIssues(s string) []profile.Issue {
	issues := []profile.Issue{}
	if s == "" {
		return issues
	}
	if err := json.Unmarshal([]byte(s), &issues); err != nil {
		return []profile.Issue{}
	}
	return issues
}
