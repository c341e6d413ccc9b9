// Package session contains the tutoring session aggregate: the ordered log of
// events exchanged with one learner between a session start and end.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/guide-lms/guide-router/internal/domain/event"
)

// Domain errors for session package.
var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrInvalidID       = errors.New("session: invalid ID")
	ErrNoChannel       = errors.New("session: no outbound channel attached")
)

// Channel delivers payloads to the learner's client.
type Channel interface {
	Emit(ctx context.Context, channel string, payload any) error
}

// Session is one learner's tutoring session. It exclusively owns its event log.
type Session struct {
	ID        string
	StudentID string
	GroupID   string
	ClassID   string
	Active    bool
	StartTime time.Time
	EndTime   *time.Time

	// Events is append-only; insertion order is arrival order.
	Events []*event.Event

	// Channel is the outbound connection. It is never persisted.
	Channel Channel

	persisted int
}

// New creates an inactive session with an empty log.
func New(id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	return &Session{ID: id, Events: make([]*event.Event, 0)}, nil
}

// Start marks the session active for the given student.
func (s *Session) Start(studentID string, at time.Time) {
	s.StudentID = studentID
	s.Active = true
	s.StartTime = at
	s.EndTime = nil
}

// LogEvent appends an event to the log.
func (s *Session) LogEvent(e *event.Event) {
	s.Events = append(s.Events, e)
}

// LastEvent returns the most recently logged event, or nil.
func (s *Session) LastEvent() *event.Event {
	if len(s.Events) == 0 {
		return nil
	}
	return s.Events[len(s.Events)-1]
}

// FindPreviousEvent returns the most recent logged event, other than e itself,
// with the same actor, verb and object as e.
func (s *Session) FindPreviousEvent(e *event.Event) *event.Event {
	for i := len(s.Events) - 1; i >= 0; i-- {
		prev := s.Events[i]
		if prev == e || (e.ID != "" && prev.ID == e.ID) {
			continue
		}
		if prev.IsMatch(e.Actor, e.Verb, e.Object) {
			return prev
		}
	}
	return nil
}

// Deactivate ends the session. EndTime is the time of the last logged event,
// or now when the log is empty.
func (s *Session) Deactivate(now time.Time) {
	s.Active = false
	end := now
	if last := s.LastEvent(); last != nil {
		end = last.Time
	}
	s.EndTime = &end
}

// LastActivity returns the time of the last logged event, or the start time.
func (s *Session) LastActivity() time.Time {
	if last := s.LastEvent(); last != nil {
		return last.Time
	}
	return s.StartTime
}

// PendingEvents returns events logged since the last MarkPersisted call.
func (s *Session) PendingEvents() []*event.Event {
	if s.persisted >= len(s.Events) {
		return nil
	}
	return s.Events[s.persisted:]
}

// MarkPersisted records that every logged event has been stored.
func (s *Session) MarkPersisted() {
	s.persisted = len(s.Events)
}

// Restore rebuilds a session loaded from storage; its whole log counts as persisted.
func Restore(s *Session) *Session {
	if s.Events == nil {
		s.Events = make([]*event.Event, 0)
	}
	s.persisted = len(s.Events)
	return s
}

// Clone returns a detached copy of s without its outbound channel. The log
// slice is copied; logged events are shared.
func (s *Session) Clone() *Session {
	c := *s
	c.Channel = nil
	c.Events = append(make([]*event.Event, 0, len(s.Events)), s.Events...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// Repository persists sessions and their event logs.
type Repository interface {
	// Save upserts the session record and appends any pending events.
	Save(ctx context.Context, s *Session) error

	// GetByID loads a session with its full event log.
	GetByID(ctx context.Context, id string) (*Session, error)

	// ListActive returns all sessions still marked active.
	ListActive(ctx context.Context) ([]*Session, error)

	// ListIdle returns active sessions whose last activity is before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
