package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/vitals/internal/profile"
	"github.com/kalambet/vitals/internal/questions"
	"github.com/kalambet/vitals/internal/storage"
)

const (
	DefaultAutoThreshold   = 0.8
	DefaultDeleteThreshold = 0.95
)

// Thresholds gate automatic execution. Actions below their threshold wait
// for the user to confirm them. DELETE uses the stricter Delete threshold.
type Thresholds struct {
	Auto   float64
	Delete float64
}

func (t Thresholds) orDefault() Thresholds {
	if t.Auto <= 0 {
		t.Auto = DefaultAutoThreshold
	}
	if t.Delete <= 0 {
		t.Delete = DefaultDeleteThreshold
	}
	return t
}

// PendingAction is an action waiting for user confirmation.
type PendingAction struct {
	ID     string         `json:"id"`
	Action profile.Action `json:"action"`
}

// RejectedAction is an action that could not be applied to the section text.
type RejectedAction struct {
	Action profile.Action `json:"action"`
	Reason string         `json:"reason"`
}

// Outcome reports what happened to a batch of actions.
type Outcome struct {
	Executed []profile.Action `json:"executed"`
	Pending  []PendingAction  `json:"pending"`
	Rejected []RejectedAction `json:"rejected"`
}

func (o *Outcome) merge(other Outcome) {
	o.Executed = append(o.Executed, other.Executed...)
	o.Pending = append(o.Pending, other.Pending...)
	o.Rejected = append(o.Rejected, other.Rejected...)
}

// Executor applies profile actions to the user's sections.
type Executor struct {
	store    Store
	sections *profile.Manager
	catalog  *questions.Catalog
	th       Thresholds
	newID    func() string
}

func NewExecutor(store Store, sections *profile.Manager, cat *questions.Catalog, th Thresholds) *Executor {
	return &Executor{store: store, sections: sections, catalog: cat, th: th.orDefault(), newID: uuid.NewString}
}

// Execute applies actions in order. Unless confirmed, actions below their
// threshold are saved as pending instead. Actions whose target text is not
// in the section, or that reference an unknown section, are rejected and
// logged; they never modify the profile. Only store failures are returned.
func (e *Executor) Execute(userID, sessionID string, actions []profile.Action, confirmed bool) (Outcome, error) {
	var out Outcome
	for _, a := range actions {
		if a.Type == profile.ActionNone {
			continue
		}
		meta, ok := e.catalog.Section(a.SectionID)
		if !ok {
			e.reject(&out, a, fmt.Sprintf("unknown section %q", a.SectionID))
			continue
		}

		threshold := e.th.Auto
		if a.Type == profile.ActionDelete {
			threshold = e.th.Delete
		}
		if !confirmed && a.Confidence < threshold {
			p, err := e.savePending(userID, sessionID, a)
			if err != nil {
				return out, err
			}
			out.Pending = append(out.Pending, p)
			continue
		}

		sec, _, err := e.sections.Section(userID, a.SectionID)
		if err != nil {
			return out, err
		}
		updated, err := profile.Apply(sec.Content, a)
		if err != nil {
			if errors.Is(err, profile.ErrTargetNotFound) || errors.Is(err, profile.ErrInvalidAction) {
				e.reject(&out, a, err.Error())
				continue
			}
			return out, err
		}
		if updated == sec.Content {
			continue
		}

		err = e.sections.PutSection(userID, profile.Section{
			ID:      a.SectionID,
			Title:   meta.Title,
			Content: updated,
			Order:   meta.Order,
		})
		if err != nil {
			return out, err
		}
		out.Executed = append(out.Executed, a)
	}
	return out, nil
}

func (e *Executor) reject(out *Outcome, a profile.Action, reason string) {
	slog.Warn("rejected profile action", "type", a.Type, "section_id", a.SectionID, "reason", reason)
	out.Rejected = append(out.Rejected, RejectedAction{Action: a, Reason: reason})
}

func (e *Executor) savePending(userID, sessionID string, a profile.Action) (PendingAction, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return PendingAction{}, fmt.Errorf("encoding pending action: %w", err)
	}
	p := PendingAction{ID: e.newID(), Action: a}
	err = e.store.SavePendingAction(storage.PendingAction{
		ID:         p.ID,
		SessionID:  sessionID,
		UserID:     userID,
		ActionJSON: string(b),
	})
	if err != nil {
		return PendingAction{}, fmt.Errorf("saving pending action: %w", err)
	}
	return p, nil
}

func decodePending(p storage.PendingAction) (PendingAction, error) {
	var a profile.Action
	if err := json.Unmarshal([]byte(p.ActionJSON), &a); err != nil {
		return PendingAction{}, fmt.Errorf("decoding pending action %s: %w", p.ID, err)
	}
	return PendingAction{ID: p.ID, Action: a}, nil
}
