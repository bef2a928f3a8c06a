package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session statuses. There is no terminal state; sessions are resumed indefinitely.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Pending action statuses.
const (
	ActionPending  = "pending"
	ActionApplied  = "applied"
	ActionRejected = "rejected"
)

type Section struct {
	UserID     string
	SectionID  string
	Title      string
	Content    string
	OrderIndex int
	UpdatedAt  time.Time
}

type QuestionProgress struct {
	UserID        string
	QuestionID    string
	SectionID     string
	Priority      int
	IsAnswered    bool
	AnswerSummary string
	Source        string // "turn", "skip", "analyzer"
	UpdatedAt     time.Time
}

type Session struct {
	ID                string
	UserID            string
	Status            string
	CurrentPriority   int
	CurrentSectionID  string // empty when no question remains
	CurrentQuestionID string // empty when no question remains
	PendingIssues     string // JSON array of profile issues awaiting review
	IssuesReviewed    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Message struct {
	ID         int64
	SessionID  string
	Role       string
	Content    string
	QuestionID string
	CreatedAt  time.Time
}

type PendingAction struct {
	ID         string
	SessionID  string
	UserID     string
	ActionJSON string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
