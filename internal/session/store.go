package session

import "github.com/kalambet/vitals/internal/storage"

// Store is the persistence the session layer needs. Implemented by
// storage.Store.
type Store interface {
	CreateSession(sess storage.Session) error
	ActivateSession(userID, id string) error
	GetSession(id string) (storage.Session, error)
	LatestSession(userID, status string) (storage.Session, error)
	UpdateSessionPointer(id string, priority int, sectionID, questionID string) error
	SetSessionIssues(id, issuesJSON string, reviewed bool) error
	PauseSession(id string) error
	DeleteUserSessions(userID string) (int, error)
	RecordSkip(sessionID, questionID string) error
	SkippedQuestionIDs(sessionID string) (map[string]bool, error)

	AppendMessage(m storage.Message) (int64, error)
	RecentMessages(sessionID string, limit int) ([]storage.Message, error)
	CountMessages(sessionID, role string) (int, error)

	UpsertProgress(p storage.QuestionProgress) error
	AnsweredQuestionIDs(userID string) (map[string]bool, error)

	SavePendingAction(a storage.PendingAction) error
	GetPendingAction(id string) (storage.PendingAction, error)
	ListPendingActions(sessionID, status string) ([]storage.PendingAction, error)
	TransitionPendingAction(id, from, to string) error
}
