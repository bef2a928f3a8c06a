package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vitals/internal/analyzer"
	"github.com/kalambet/vitals/internal/editor"
	"github.com/kalambet/vitals/internal/hearing"
	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/storage"
)

var (
	// ErrNoSession is returned when the user has no session, or the session
	// id does not belong to the user.
	ErrNoSession = errors.New("no session")

	// ErrSessionPaused is returned for a turn sent to a paused session.
	ErrSessionPaused = errors.New("session is paused")

	// ErrActionNotPending is returned when confirming or rejecting an action
	// that was already decided.
	ErrActionNotPending = errors.New("action is not pending")

	// ErrEmptyMessage is returned for a turn with no usable text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrUnknownSection is returned for a direct edit of a section the
	// catalog does not define.
	ErrUnknownSection = errors.New("unknown section")
)

const defaultHistoryLimit = 20

// Config holds the session policies.
type Config struct {
	Thresholds Thresholds
	// RecordSkipped marks skipped questions answered so they are never asked again.
	RecordSkipped bool
	// HistoryLimit is the number of prior messages embedded in a turn prompt.
	HistoryLimit int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    Store
	Sections *profile.Manager
	Catalog  *questions.Catalog
	Analyzer *analyzer.Analyzer
	Hearing  *hearing.Agent
	Editor   *editor.Editor
}

// Service is the session and question state machine. All mutating
// operations of one user are serialized.
type Service struct {
	store    Store
	sections *profile.Manager
	catalog  *questions.Catalog
	analyzer *analyzer.Analyzer
	hearing  *hearing.Agent
	editor   *editor.Editor
	executor *Executor
	locks    *keyedLocks
	cfg      Config
	newID    func() string
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		store:    d.Store,
		sections: d.Sections,
		catalog:  d.Catalog,
		analyzer: d.Analyzer,
		hearing:  d.Hearing,
		editor:   d.Editor,
		executor: NewExecutor(d.Store, d.Sections, d.Catalog, cfg.Thresholds),
		locks:    newKeyedLocks(),
		cfg:      cfg,
		newID:    uuid.NewString,
	}
}

func (s *Service) lock(ctx context.Context, userID string) (func(), error) {
	release, err := s.locks.acquire(ctx, "user:"+userID)
	if err != nil {
		return nil, fmt.Errorf("waiting for session lock: %w", err)
	}
	return release, nil
}

// ownedSession loads a session and checks it belongs to userID.
func (s *Service) ownedSession(userID, sessionID string) (storage.Session, error) {
	sess, err := s.store.GetSession(sessionID)
	if errors.Is(err, storage.ErrNotFound) || err == nil && sess.UserID != userID {
		return storage.Session{}, ErrNoSession
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// Start resumes the user's latest session, or creates one at priority 3 when
// the user has none. The profile is re-audited on every start so edits made
// outside the conversation are picked up. The session ends up the user's only
// active one.
func (s *Service) Start(ctx context.Context, userID string) (StartResult, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return StartResult{}, err
	}
	defer release()

	s.sections.Invalidate(userID)

	var (
		text     string
		answered map[string]bool
		existing storage.Session
		found    bool
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		text, err = s.sections.Text(userID)
		return err
	})
	g.Go(func() error {
		var err error
		answered, err = s.store.AnsweredQuestionIDs(userID)
		return err
	})
	g.Go(func() error {
		sess, err := s.store.LatestSession(userID, "")
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existing, found = sess, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return StartResult{}, fmt.Errorf("loading user state: %w", err)
	}

	report := s.analyzer.Analyze(ctx, text, answered)
	if err := ctx.Err(); err != nil {
		return StartResult{}, err
	}

	sess := existing
	if found {
		if sess.Status != storage.StatusActive {
			if err := s.store.ActivateSession(userID, sess.ID); err != nil {
				return StartResult{}, fmt.Errorf("resuming session: %w", err)
			}
		}
	} else {
		sess = storage.Session{ID: s.newID(), UserID: userID, CurrentPriority: 3}
		if err := s.store.CreateSession(sess); err != nil {
			return StartResult{}, fmt.Errorf("creating session: %w", err)
		}
	}

	for _, id := range report.Value.AlreadyAnswered {
		q, _ := s.catalog.Get(id)
		err := s.store.UpsertProgress(storage.QuestionProgress{
			UserID:        userID,
			QuestionID:    q.ID,
			SectionID:     q.SectionID,
			Priority:      q.Priority,
			IsAnswered:    true,
			AnswerSummary: "found in existing profile",
			Source:        "analyzer",
		})
		if err != nil {
			return StartResult{}, fmt.Errorf("recording analyzed progress: %w", err)
		}
		answered[id] = true
	}

	next, err := s.advance(sess.ID, answered, sess.CurrentPriority, "")
	if err != nil {
		return StartResult{}, err
	}

	issues := []profile.Issue{}
	if !sess.IssuesReviewed {
		issues = report.Value.Issues
		if err := s.store.SetSessionIssues(sess.ID, encodeIssues(issues), false); err != nil {
			return StartResult{}, fmt.Errorf("storing profile issues: %w", err)
		}
	}

	welcome := welcomeMessage(found, issues, next)
	if err := s.appendMessage(sess.ID, storage.RoleAssistant, welcome, questionID(next)); err != nil {
		return StartResult{}, err
	}

	saved, err := s.store.GetSession(sess.ID)
	if err != nil {
		return StartResult{}, fmt.Errorf("reloading session: %w", err)
	}
	slog.Info("session started", "session_id", saved.ID, "resumed", found, "issues", len(issues), "question_id", questionID(next))

	return StartResult{
		Session:          toView(saved),
		Resumed:          found,
		Message:          welcome,
		Issues:           issues,
		Missing:          report.Value.Missing,
		Progress:         s.progress(answered),
		NextQuestion:     next,
		AnalyzerFallback: report.Fallback,
	}, nil
}

// advance moves the session pointer to the next unanswered question at or
// below priority. Questions skipped in the session come back only once
// nothing else is left, and justSkipped is not repeated while another
// skipped question remains. A nil question means free-form mode.
func (s *Service) advance(sessionID string, answered map[string]bool, priority int, justSkipped string) (*questions.Question, error) {
	skipped, err := s.store.SkippedQuestionIDs(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading skipped questions: %w", err)
	}
	q, tier, ok := s.catalog.NextSkipping(answered, skipped, priority)
	if ok && q.ID == justSkipped {
		rest := map[string]bool{justSkipped: true}
		for id, v := range answered {
			rest[id] = rest[id] || v
		}
		if other, otherTier, found := s.catalog.Next(rest, 3); found {
			q, tier = other, otherTier
		}
	}
	if ok {
		err = s.store.UpdateSessionPointer(sessionID, tier, q.SectionID, q.ID)
	} else {
		err = s.store.UpdateSessionPointer(sessionID, 1, "", "")
	}
	if err != nil {
		return nil, fmt.Errorf("moving question pointer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func welcomeMessage(resumed bool, issues []profile.Issue, next *questions.Question) string {
	var sb strings.Builder
	if resumed {
		sb.WriteString("Welcome back! Let's pick up where we left off.")
	} else {
		sb.WriteString(`Hi! Let's build up your health profile together, one question at a time. Say "skip" to pass on a question or "pause" to stop whenever you like.`)
	}

	switch {
	case len(issues) > 0:
		sb.WriteString("\n\nBefore we continue, I noticed a few things in your profile that may need tidying up:\n")
		sb.WriteString(hearing.FormatIssues(issues))
		sb.WriteString("\n\nShall I fix these as suggested?")
	case next != nil:
		sb.WriteString("\n\n")
		sb.WriteString(next.Question)
	default:
		sb.WriteString("\n\nEvery profile question is answered. Feel free to ask me anything about your profile.")
	}
	return sb.String()
}

func questionID(q *questions.Question) string {
	if q == nil {
		return ""
	}
	return q.ID
}

func (s *Service) appendMessage(sessionID, role, content, qid string) error {
	_, err := s.store.AppendMessage(storage.Message{SessionID: sessionID, Role: role, Content: content, QuestionID: qid})
	if err != nil {
		return fmt.Errorf("appending %s message: %w", role, err)
	}
	return nil
}

// Turn processes one user message. Model calls happen before any write; if
// ctx is cancelled by then nothing is persisted and the question stays
// outstanding.
func (s *Service) Turn(ctx context.Context, userID, sessionID, message string) (TurnResult, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	sess, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if sess.Status != storage.StatusActive {
		return TurnResult{}, ErrSessionPaused
	}

	msg := hearing.Sanitize(message)
	if msg == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	answered, err := s.store.AnsweredQuestionIDs(userID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading progress: %w", err)
	}
	skipped, err := s.store.SkippedQuestionIDs(sess.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading skipped questions: %w", err)
	}

	// The pointer may be stale if the question was answered elsewhere.
	var current *questions.Question
	if q, ok := s.catalog.Get(sess.CurrentQuestionID); ok && !answered[q.ID] {
		current = &q
	} else if q, _, ok := s.catalog.NextSkipping(answered, skipped, sess.CurrentPriority); ok {
		current = &q
	}

	if hearing.IsPauseRequest(msg) {
		if err := ctx.Err(); err != nil {
			return TurnResult{}, err
		}
		if err := s.appendMessage(sess.ID, storage.RoleUser, msg, questionID(current)); err != nil {
			return TurnResult{}, err
		}
		if err := s.pause(sess.ID); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Reply: hearing.PauseAcknowledgement, Paused: true, NextQuestion: current, Progress: s.progress(answered)}, nil
	}

	in, issues, err := s.buildPromptInput(sess, current, answered, msg)
	if err != nil {
		return TurnResult{}, err
	}

	res := s.hearing.Respond(ctx, in)
	turn := res.Value

	var edited *editor.Output
	if current != nil && turn.Extracted != nil {
		x := *turn.Extracted
		x.QuestionID = current.ID
		x.SectionID = current.SectionID
		out := s.editor.GenerateActions(ctx, editor.Input{
			Extracted:      x,
			SectionTitle:   in.SectionTitle,
			SectionContent: in.SectionContent,
		})
		edited = &out.Value
		turn.Extracted = &x
	}

	// Nothing below runs for a turn the caller abandoned.
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	result := TurnResult{Reply: turn.Reply, Mode: turn.Mode, Fallback: res.Fallback}

	if res.Fallback {
		if err := s.appendMessage(sess.ID, storage.RoleUser, msg, questionID(current)); err != nil {
			return TurnResult{}, err
		}
		if err := s.appendMessage(sess.ID, storage.RoleAssistant, turn.Reply, questionID(current)); err != nil {
			return TurnResult{}, err
		}
		result.NextQuestion = current
		result.Progress = s.progress(answered)
		return result, nil
	}

	var outcome Outcome
	if len(issues) > 0 {
		o, err := s.decideIssues(userID, sess.ID, issues, turn.Decision)
		if err != nil {
			return TurnResult{}, err
		}
		outcome.merge(o)
	}

	priority := sess.CurrentPriority
	if edited != nil {
		o, err := s.executor.Execute(userID, sess.ID, edited.Actions, false)
		if err != nil {
			return TurnResult{}, fmt.Errorf("executing profile actions: %w", err)
		}
		outcome.merge(o)

		if turn.Extracted.IsSkipped {
			if err := s.store.RecordSkip(sess.ID, current.ID); err != nil {
				return TurnResult{}, fmt.Errorf("recording skip: %w", err)
			}
		}

		settled := landed(edited.Actions, o)
		if !settled {
			slog.Warn("question left outstanding, no profile action applied", "session_id", sess.ID,
				"question_id", current.ID, "rejected", len(o.Rejected))
		}
		if id := edited.AnsweredQuestionID; id != "" && settled && (!turn.Extracted.IsSkipped || s.cfg.RecordSkipped) {
			source := "turn"
			if turn.Extracted.IsSkipped {
				source = "skip"
			}
			err := s.store.UpsertProgress(storage.QuestionProgress{
				UserID:        userID,
				QuestionID:    current.ID,
				SectionID:     current.SectionID,
				Priority:      current.Priority,
				IsAnswered:    true,
				AnswerSummary: turn.Extracted.RawAnswer,
				Source:        source,
			})
			if err != nil {
				return TurnResult{}, fmt.Errorf("recording progress: %w", err)
			}
			answered[current.ID] = true
		}
	}
	if current != nil && current.Priority < priority {
		priority = current.Priority
	}

	var justSkipped string
	if edited != nil && turn.Extracted.IsSkipped {
		justSkipped = current.ID
	}
	next, err := s.advance(sess.ID, answered, priority, justSkipped)
	if err != nil {
		return TurnResult{}, err
	}

	if err := s.appendMessage(sess.ID, storage.RoleUser, msg, questionID(current)); err != nil {
		return TurnResult{}, err
	}
	if err := s.appendMessage(sess.ID, storage.RoleAssistant, turn.Reply, questionID(current)); err != nil {
		return TurnResult{}, err
	}

	if turn.Pause {
		if err := s.store.PauseSession(sess.ID); err != nil {
			return TurnResult{}, fmt.Errorf("pausing session: %w", err)
		}
		result.Paused = true
	}

	result.ExecutedActions = outcome.Executed
	result.PendingActions = outcome.Pending
	result.RejectedActions = outcome.Rejected
	result.NextQuestion = next
	result.Progress = s.progress(answered)
	return result, nil
}

func (s *Service) buildPromptInput(sess storage.Session, current *questions.Question, answered map[string]bool, msg string) (hearing.PromptInput, []profile.Issue, error) {
	in := hearing.PromptInput{Question: current, UserMessage: msg}

	if current != nil {
		meta, _ := s.catalog.Section(current.SectionID)
		in.SectionTitle = meta.Title
		sec, _, err := s.sections.Section(sess.UserID, current.SectionID)
		if err != nil {
			return in, nil, err
		}
		in.SectionContent = sec.Content
		if next, ok := s.catalog.After(answered, *current); ok {
			in.NextQuestion = &next
		}
	}

	var issues []profile.Issue
	if !sess.IssuesReviewed {
		issues = decodeIssues(sess.PendingIssues)
		in.Issues = issues
	}

	history, err := s.store.RecentMessages(sess.ID, s.cfg.HistoryLimit)
	if err != nil {
		return in, nil, fmt.Errorf("loading history: %w", err)
	}
	for _, m := range history {
		in.History = append(in.History, hearing.Message{Role: m.Role, Content: m.Content})
	}

	n, err := s.store.CountMessages(sess.ID, storage.RoleUser)
	if err != nil {
		return in, nil, fmt.Errorf("counting messages: %w", err)
	}
	in.IsFirstQuestion = n == 0
	return in, issues, nil
}

// decideIssues applies the user's verdict on the pending issues. Issues are
// consumed unless the user asked for clarification.
func (s *Service) decideIssues(userID, sessionID string, issues []profile.Issue, d *hearing.IssueDecision) (Outcome, error) {
	var actions []profile.Action
	if d != nil {
		switch d.Decision {
		case hearing.DecisionClarify:
			return Outcome{}, nil
		case hearing.DecisionApprove:
			for _, is := range issues {
				if is.SuggestedAction != nil {
					actions = append(actions, *is.SuggestedAction)
				}
			}
		case hearing.DecisionCustom:
			actions = append(actions, *d.CustomAction)
		}
	}

	out, err := s.executor.Execute(userID, sessionID, actions, true)
	if err != nil {
		return out, fmt.Errorf("executing issue resolution: %w", err)
	}
	if err := s.store.SetSessionIssues(sessionID, "[]", true); err != nil {
		return out, fmt.Errorf("clearing profile issues: %w", err)
	}
	return out, nil
}

// landed reports whether the editor's decision reached the profile: at least
// one real action was applied or queued, or the editor chose to change
// nothing.
func landed(actions []profile.Action, o Outcome) bool {
	n := 0
	for _, a := range actions {
		if a.Type != profile.ActionNone {
			n++
		}
	}
	return n == 0 || len(o.Rejected) < n
}

func (s *Service) pause(sessionID string) error {
	if err := s.store.PauseSession(sessionID); err != nil {
		return fmt.Errorf("pausing session: %w", err)
	}
	return s.appendMessage(sessionID, storage.RoleAssistant, hearing.PauseAcknowledgement, "")
}

// Pause pauses the session and acknowledges it. Pausing a paused session is
// a no-op.
func (s *Service) Pause(ctx context.Context, userID, sessionID string) (View, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return View{}, err
	}
	defer release()

	sess, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return View{}, err
	}
	if sess.Status == storage.StatusActive {
		if err := s.pause(sess.ID); err != nil {
			return View{}, err
		}
	}
	sess, err = s.store.GetSession(sess.ID)
	if err != nil {
		return View{}, fmt.Errorf("reloading session: %w", err)
	}
	return toView(sess), nil
}

// Clear deletes every session and message of the user. Profile sections and
// question progress are kept.
func (s *Service) Clear(ctx context.Context, userID string) (int, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := s.store.DeleteUserSessions(userID)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return n, nil
}

// Get summarizes the user's current session.
func (s *Service) Get(userID string) (Summary, error) {
	sess, err := s.store.LatestSession(userID, "")
	if errors.Is(err, storage.ErrNotFound) {
		return Summary{}, ErrNoSession
	}
	if err != nil {
		return Summary{}, fmt.Errorf("loading session: %w", err)
	}
	answered, err := s.store.AnsweredQuestionIDs(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading progress: %w", err)
	}
	msgs, err := s.store.RecentMessages(sess.ID, s.cfg.HistoryLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("loading messages: %w", err)
	}
	pending, err := s.pendingActions(sess.ID)
	if err != nil {
		return Summary{}, err
	}

	var next *questions.Question
	if q, ok := s.catalog.Get(sess.CurrentQuestionID); ok {
		next = &q
	}
	return Summary{
		Session:        toView(sess),
		Progress:       s.progress(answered),
		NextQuestion:   next,
		Messages:       toMessageViews(msgs),
		PendingActions: pending,
	}, nil
}

func (s *Service) pendingActions(sessionID string) ([]PendingAction, error) {
	rows, err := s.store.ListPendingActions(sessionID, storage.ActionPending)
	if err != nil {
		return nil, fmt.Errorf("loading pending actions: %w", err)
	}
	out := make([]PendingAction, 0, len(rows))
	for _, r := range rows {
		p, err := decodePending(r)
		if err != nil {
			slog.Warn("skipping undecodable pending action", "id", r.ID, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ConfirmAction executes a pending action. An action that no longer applies
// to the section text is marked rejected and reported in the outcome.
func (s *Service) ConfirmAction(ctx context.Context, userID, sessionID, actionID string) (Outcome, error) {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	p, err := s.loadPending(userID, sessionID, actionID)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.executor.Execute(userID, sessionID, []profile.Action{p.Action}, true)
	if err != nil {
		return out, fmt.Errorf("executing confirmed action: %w", err)
	}
	status := storage.ActionApplied
	if len(out.Rejected) > 0 {
		status = storage.ActionRejected
	}
	if err := s.store.TransitionPendingAction(actionID, storage.ActionPending, status); err != nil {
		return out, fmt.Errorf("updating pending action: %w", err)
	}
	return out, nil
}

// RejectAction discards a pending action.
func (s *Service) RejectAction(ctx context.Context, userID, sessionID, actionID string) error {
	release, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.loadPending(userID, sessionID, actionID); err != nil {
		return err
	}
	if err := s.store.TransitionPendingAction(actionID, storage.ActionPending, storage.ActionRejected); err != nil {
		return fmt.Errorf("updating pending action: %w", err)
	}
	return nil
}

func (s *Service) loadPending(userID, sessionID, actionID string) (PendingAction, error) {
	row, err := s.store.GetPendingAction(actionID)
	if errors.Is(err, storage.ErrNotFound) || err == nil && (row.UserID != userID || row.SessionID != sessionID) {
		return PendingAction{}, fmt.Errorf("action %s: %w", actionID, storage.ErrNotFound)
	}
	if err != nil {
		return PendingAction{}, fmt.Errorf("loading pending action: %w", err)
	}
	if row.Status != storage.ActionPending {
		return PendingAction{}, ErrActionNotPending
	}
	return decodePending(row)
}

func (s *Service) progress(answered map[string]bool) Progress {
	p := Progress{Total: s.catalog.Len()}
	bySection := make(map[string]*SectionProgress)
	for _, sec := range s.catalog.Sections() {
		sp := SectionProgress{SectionID: sec.ID, Title: sec.Title}
		p.Sections = append(p.Sections, sp)
	}
	for i := range p.Sections {
		bySection[p.Sections[i].SectionID] = &p.Sections[i]
	}
	for _, q := range s.catalog.Questions() {
		sp := bySection[q.SectionID]
		sp.Total++
		if answered[q.ID] {
			sp.Answered++
			p.Answered++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Answered * 100 / p.Total
	}
	return p
}

// Questions lists the catalog with the user's answered flags.
func (s *Service) Questions(userID string) ([]QuestionStatus, Progress, error) {
	answered, err := s.store.AnsweredQuestionIDs(userID)
	if err != nil {
		return nil, Progress{}, fmt.Errorf("loading progress: %w", err)
	}
	qs := s.catalog.Questions()
	out := make([]QuestionStatus, 0, len(qs))
	for _, q := range qs {
		out = append(out, QuestionStatus{Question: q, Answered: answered[q.ID]})
	}
	return out, s.progress(answered), nil
}
