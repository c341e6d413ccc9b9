// Package event defines the inbound learner event: an actor/verb/object
// classification with an open context payload, a timestamp, and the
// client-assigned sequence number used to discard stale tutoring responses.
package event

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Wildcard matches any value in IsMatch.
const Wildcard = "*"

// Actor classifies who produced an event.
type Actor string

const (
	ActorSystem Actor = "SYSTEM"
	ActorUser   Actor = "USER"
	ActorITS    Actor = "ITS"
	AnyActor    Actor = Wildcard
)

// IsValid reports whether the actor is one of the known actors.
func (a Actor) IsValid() bool {
	switch a {
	case ActorSystem, ActorUser, ActorITS:
		return true
	}
	return false
}

// Common verbs.
const (
	VerbStarted   = "STARTED"
	VerbEnded     = "ENDED"
	VerbSubmitted = "SUBMITTED"
	VerbSelected  = "SELECTED"
	VerbChanged   = "CHANGED"
	VerbBred      = "BRED"
)

// Common objects.
const (
	ObjectSession   = "SESSION"
	ObjectOrganism  = "ORGANISM"
	ObjectEgg       = "EGG"
	ObjectAllele    = "ALLELE"
	ObjectClutch    = "CLUTCH"
	ObjectParent    = "PARENT"
	ObjectParents   = "PARENTS"
	ObjectChallenge = "CHALLENGE"
	ObjectUser      = "USER"
)

// Event is a classified, timestamped learner or system occurrence.
type Event struct {
	ID        string    `json:"id,omitempty"`
	StudentID string    `json:"username"`
	SessionID string    `json:"session"`
	Actor     Actor     `json:"actor"`
	Verb      string    `json:"action"`
	Object    string    `json:"target"`
	Context   Context   `json:"context"`
	Time      time.Time `json:"time"`
	Sequence  int64     `json:"sequence"`

	prepared bool
}

// New creates an event with a fresh ID and an empty context.
func New(actor Actor, verb, object string, ctx Context) *Event {
	if ctx == nil {
		ctx = Context{}
	}
	return &Event{
		ID:      NewID(),
		Actor:   actor,
		Verb:    verb,
		Object:  object,
		Context: ctx,
		Time:    time.Now().UTC(),
	}
}

// NewID returns a lexically sortable event identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// IsMatch reports whether the event has the given shape. Each pattern must equal
// the corresponding field exactly or be the wildcard.
func (e *Event) IsMatch(actor Actor, verb, object string) bool {
	return (actor == AnyActor || actor == e.Actor) &&
		(verb == Wildcard || verb == e.Verb) &&
		(object == Wildcard || object == e.Object)
}

// Shape returns "ACTOR/VERB/OBJECT".
func (e *Event) Shape() string {
	return fmt.Sprintf("%s/%s/%s", e.Actor, e.Verb, e.Object)
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("%s (student=%s session=%s seq=%d)", e.Shape(), e.StudentID, e.SessionID, e.Sequence)
}

// MarkPrepared flags the event as having had derived context injected.
// It returns false if the event was already prepared.
func (e *Event) MarkPrepared() bool {
	if e.prepared {
		return false
	}
	e.prepared = true
	return true
}

// Prepared reports whether derived context has been injected.
func (e *Event) Prepared() bool {
	return e.prepared
}

// Validate checks the fields every event must carry.
func (e *Event) Validate() error {
	if !e.Actor.IsValid() {
		return fmt.Errorf("event: invalid actor %q", e.Actor)
	}
	if e.Verb == "" || e.Object == "" {
		return errors.New("event: action and target are required")
	}
	return nil
}

// UnmarshalJSON accepts "time" as either epoch milliseconds or an RFC 3339 string.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := struct {
		*alias
		Time json.RawMessage `json:"time"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.Actor = Actor(strings.ToUpper(string(e.Actor)))
	if e.Context == nil {
		e.Context = Context{}
	}

	t, err := parseTime(aux.Time)
	if err != nil {
		return err
	}
	e.Time = t
	return nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC(), nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("event: invalid time: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("event: invalid time %q: %w", s, err)
	}
	return t.UTC(), nil
}
