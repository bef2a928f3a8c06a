package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const sessionColumns = `id, user_id, status, current_priority, current_section_id, current_question_id,
	pending_issues, issues_reviewed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var sectionID, questionID sql.NullString
	var reviewed int
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.CurrentPriority, &sectionID, &questionID,
		&sess.PendingIssues, &reviewed, &createdAt, &updatedAt)
	if err != nil {
		return Session{}, err
	}
	sess.CurrentSectionID = sectionID.String
	sess.CurrentQuestionID = questionID.String
	sess.IssuesReviewed = reviewed == 1
	if sess.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Session{}, err
	}
	if sess.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// pauseActive pauses every active session of the user except keepID.
func pauseActive(tx *sql.Tx, userID, keepID, now string) error {
	_, err := tx.Exec(`UPDATE chat_sessions SET status = 'paused', updated_at = ?
		WHERE user_id = ? AND status = 'active' AND id != ?`, now, userID, keepID)
	if err != nil {
		return fmt.Errorf("pausing active sessions: %w", err)
	}
	return nil
}

// CreateSession inserts sess as the user's only active session. Any other
// active session of the same user is paused in the same transaction.
func (s *Store) CreateSession(sess Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	if sess.PendingIssues == "" {
		sess.PendingIssues = "[]"
	}
	return s.withTx(func(tx *sql.Tx) error {
		if err := pauseActive(tx, sess.UserID, sess.ID, formatTime(now)); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO chat_sessions (`+sessionColumns+`)
			VALUES (?, ?, 'active', ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.UserID, sess.CurrentPriority, nullString(sess.CurrentSectionID), nullString(sess.CurrentQuestionID),
			sess.PendingIssues, boolInt(sess.IssuesReviewed), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		return nil
	})
}

// ActivateSession marks the session active and pauses the user's other
// active sessions atomically.
func (s *Store) ActivateSession(userID, id string) error {
	now := formatTime(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		if err := pauseActive(tx, userID, id, now); err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE chat_sessions SET status = 'active', updated_at = ? WHERE id = ? AND user_id = ?`, now, id, userID)
		if err != nil {
			return fmt.Errorf("activating session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) GetSession(id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// LatestSession returns the user's most recently updated session with the
// given status, or with any status when status is empty.
func (s *Store) LatestSession(userID, status string) (Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY (status = 'active') DESC, updated_at DESC, rowid DESC LIMIT 1`

	sess, err := scanSession(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns every session of the user, newest first.
func (s *Store) ListSessions(userID string) ([]Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM chat_sessions WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// UpdateSessionPointer moves the session to a new question. Empty ids clear
// the pointer (free-form mode).
func (s *Store) UpdateSessionPointer(id string, priority int, sectionID, questionID string) error {
	res, err := s.db.Exec(`UPDATE chat_sessions
		SET current_priority = ?, current_section_id = ?, current_question_id = ?, updated_at = ?
		WHERE id = ?`,
		priority, nullString(sectionID), nullString(questionID), formatTime(time.Now()), id)
	return expectOne(res, err)
}

// SetSessionIssues stores the issues awaiting review and whether the review
// has already been presented to the user.
func (s *Store) SetSessionIssues(id, issuesJSON string, reviewed bool) error {
	if issuesJSON == "" {
		issuesJSON = "[]"
	}
	res, err := s.db.Exec(`UPDATE chat_sessions SET pending_issues = ?, issues_reviewed = ?, updated_at = ? WHERE id = ?`,
		issuesJSON, boolInt(reviewed), formatTime(time.Now()), id)
	return expectOne(res, err)
}

func (s *Store) PauseSession(id string) error {
	res, err := s.db.Exec(`UPDATE chat_sessions SET status = 'paused', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	return expectOne(res, err)
}

// DeleteUserSessions removes every session of the user with its messages and
// pending actions. Profile sections and question progress are kept.
func (s *Store) DeleteUserSessions(userID string) (int, error) {
	var n int64
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE user_id = ?)`, userID); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM session_skips WHERE session_id IN (SELECT id FROM chat_sessions WHERE user_id = ?)`, userID); err != nil {
			return fmt.Errorf("deleting skips: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM pending_actions WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("deleting pending actions: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM chat_sessions WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// RecordSkip remembers that the user passed on questionID in the session.
// Recording the same skip twice is a no-op.
func (s *Store) RecordSkip(sessionID, questionID string) error {
	_, err := s.db.Exec(`INSERT INTO session_skips (session_id, question_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id, question_id) DO NOTHING`, sessionID, questionID, formatTime(time.Now()))
	return err
}

// SkippedQuestionIDs returns the ids of the questions skipped in the session.
func (s *Store) SkippedQuestionIDs(sessionID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT question_id FROM session_skips WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage stores a message and returns its sequence id.
func (s *Store) AppendMessage(m Message) (int64, error) {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO chat_messages (session_id, role, content, question_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.SessionID, m.Role, m.Content, nullString(m.QuestionID), formatTime(created))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMessages returns up to limit of the newest messages in chronological order.
func (s *Store) RecentMessages(sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, question_id, created_at FROM (
			SELECT * FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var questionID sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &questionID, &createdAt); err != nil {
			return nil, err
		}
		m.QuestionID = questionID.String
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// CountMessages counts the session's messages with the given role.
func (s *Store) CountMessages(sessionID, role string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE session_id = ? AND role = ?`, sessionID, role).Scan(&n)
	return n, err
}

// --- Pending actions ---

func (s *Store) SavePendingAction(a PendingAction) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.Status == "" {
		a.Status = ActionPending
	}
	_, err := s.db.Exec(`INSERT INTO pending_actions (id, session_id, user_id, action_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.UserID, a.ActionJSON, a.Status, formatTime(a.CreatedAt), formatTime(now))
	return err
}

func scanPendingAction(row rowScanner) (PendingAction, error) {
	var a PendingAction
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.ActionJSON, &a.Status, &createdAt, &updatedAt); err != nil {
		return PendingAction{}, err
	}
	var err error
	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return PendingAction{}, err
	}
	if a.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return PendingAction{}, err
	}
	return a, nil
}

func (s *Store) GetPendingAction(id string) (PendingAction, error) {
	a, err := scanPendingAction(s.db.QueryRow(`
		SELECT id, session_id, user_id, action_json, status, created_at, updated_at
		FROM pending_actions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return PendingAction{}, ErrNotFound
	}
	return a, err
}

// ListPendingActions returns the session's actions with the given status,
// oldest first. An empty status lists all of them.
func (s *Store) ListPendingActions(sessionID, status string) ([]PendingAction, error) {
	query := `SELECT id, session_id, user_id, action_json, status, created_at, updated_at
		FROM pending_actions WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// TransitionPendingAction moves an action from one status to another. It
// returns ErrNotFound when the action does not exist or is not in from.
func (s *Store) TransitionPendingAction(id, from, to string) error {
	res, err := s.db.Exec(`UPDATE pending_actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(time.Now()), id, from)
	return expectOne(res, err)
}
