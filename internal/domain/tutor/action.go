// Package tutor defines the tutoring action sent back to a learner and the port
// through which the pedagogical decision is made.
package tutor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/student"
)

// Action kinds.
const (
	ActionHint      = "HINT"
	ActionRemediate = "REMEDIATE"
)

// Action is a tutoring response. Sequence echoes the triggering event's
// sequence so clients can discard stale actions.
type Action struct {
	ID        string        `json:"id"`
	Action    string        `json:"action"`
	Context   event.Context `json:"context"`
	Sequence  int64         `json:"sequence"`
	StudentID string        `json:"username,omitempty"`
	SessionID string        `json:"session,omitempty"`
	Time      time.Time     `json:"time"`
}

// Reason describes why an action was chosen.
type Reason struct {
	Why      string
	Priority int
	Source   string
}

// Hint carries the fields of a HINT action.
type Hint struct {
	Reason
	ConceptID     string
	ConceptScore  float64
	ChallengeType string
	ChallengeID   string
	Attribute     string
	HintDialog    string
	HintLevel     int
	IsBottomOut   bool
}

// Remediation carries the fields of a REMEDIATE action.
type Remediation struct {
	Reason
	ConceptID        string
	ConceptScore     float64
	ChallengeType    string
	ChallengeID      string
	PracticeCriteria string
	Attribute        string
	IsBottomOut      bool
}

// NewHintAction creates a HINT action.
func NewHintAction(h Hint) *Action {
	return newAction(ActionHint, event.Context{
		"reason":        h.Why,
		"priority":      h.Priority,
		"source":        h.Source,
		"conceptId":     h.ConceptID,
		"conceptScore":  h.ConceptScore,
		"challengeType": h.ChallengeType,
		"challengeId":   h.ChallengeID,
		"attribute":     h.Attribute,
		"hintDialog":    h.HintDialog,
		"hintLevel":     h.HintLevel,
		"isBottomOut":   h.IsBottomOut,
	})
}

// NewRemediateAction creates a REMEDIATE action.
func NewRemediateAction(r Remediation) *Action {
	return newAction(ActionRemediate, event.Context{
		"reason":           r.Why,
		"priority":         r.Priority,
		"source":           r.Source,
		"conceptId":        r.ConceptID,
		"conceptScore":     r.ConceptScore,
		"challengeType":    r.ChallengeType,
		"challengeId":      r.ChallengeID,
		"practiceCriteria": r.PracticeCriteria,
		"attribute":        r.Attribute,
		"isBottomOut":      r.IsBottomOut,
	})
}

func newAction(kind string, ctx event.Context) *Action {
	return &Action{
		ID:      uuid.NewString(),
		Action:  kind,
		Context: ctx,
		Time:    time.Now().UTC(),
	}
}

// ToEvent converts the action into the ITS/<action>/USER protocol event that is
// logged in the session and sent to the client.
func (a *Action) ToEvent(studentID, sessionID string) *event.Event {
	ev := event.New(event.ActorITS, a.Action, event.ObjectUser, a.Context.Clone())
	ev.StudentID = studentID
	ev.SessionID = sessionID
	ev.Sequence = a.Sequence
	if !a.Time.IsZero() {
		ev.Time = a.Time
	}
	return ev
}

// String implements fmt.Stringer.
func (a *Action) String() string {
	return fmt.Sprintf("ITS/%s/USER (student=%s seq=%d)", a.Action, a.StudentID, a.Sequence)
}

// Tutor decides on at most one action per learner event.
type Tutor interface {
	// Process returns nil when no action is recommended.
	Process(ctx context.Context, ev *event.Event) (*Action, error)
}

// Factory creates a Tutor bound to one student and session.
type Factory interface {
	New(st *student.Student, sess *session.Session) Tutor
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(st *student.Student, sess *session.Session) Tutor

// New implements Factory.
func (f FactoryFunc) New(st *student.Student, sess *session.Session) Tutor {
	return f(st, sess)
}
