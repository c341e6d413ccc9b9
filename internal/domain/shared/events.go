package shared

import (
	"time"
)

// EventType represents the type of a lifecycle notification.
type EventType string

// Lifecycle notifications published by the router and the session service.
// They are distinct from learner protocol events: nothing in the routing path
// depends on them being delivered.
const (
	EventSessionStarted  EventType = "session.started"
	EventSessionEnded    EventType = "session.ended"
	EventTutorActionSent EventType = "tutor.action_sent"
	EventRoutingFailed   EventType = "router.failed"
)

// Event is the base interface for lifecycle notifications.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the session that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]any
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted once a SYSTEM/STARTED/SESSION event has been
// handled.
type SessionStartedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	GroupID   string `json:"group_id"`
	ClassID   string `json:"class_id"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]any {
	return map[string]any{
		"student_id": e.StudentID,
		"group_id":   e.GroupID,
		"class_id":   e.ClassID,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(sessionID, studentID, groupID, classID string) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, sessionID),
		StudentID: studentID,
		GroupID:   groupID,
		ClassID:   classID,
	}
}

// SessionEndedEvent is emitted when a session is deactivated.
type SessionEndedEvent struct {
	BaseEvent
	StudentID string        `json:"student_id"`
	Duration  time.Duration `json:"duration"`
	Events    int           `json:"events"`
	Reason    string        `json:"reason"`
}

// Payload implements Event interface.
func (e SessionEndedEvent) Payload() map[string]any {
	return map[string]any{
		"student_id": e.StudentID,
		"duration":   e.Duration.String(),
		"events":     e.Events,
		"reason":     e.Reason,
	}
}

// NewSessionEndedEvent creates a new SessionEndedEvent.
func NewSessionEndedEvent(sessionID, studentID string, duration time.Duration, events int, reason string) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent: NewBaseEvent(EventSessionEnded, sessionID),
		StudentID: studentID,
		Duration:  duration,
		Events:    events,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tutoring Events
// ═══════════════════════════════════════════════════════════════════════════

// TutorActionSentEvent is emitted after an action was delivered to a client.
type TutorActionSentEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Action    string `json:"action"`
	Sequence  int64  `json:"sequence"`
}

// Payload implements Event interface.
func (e TutorActionSentEvent) Payload() map[string]any {
	return map[string]any{
		"student_id": e.StudentID,
		"action":     e.Action,
		"sequence":   e.Sequence,
	}
}

// NewTutorActionSentEvent creates a new TutorActionSentEvent.
func NewTutorActionSentEvent(sessionID, studentID, action string, sequence int64) TutorActionSentEvent {
	return TutorActionSentEvent{
		BaseEvent: NewBaseEvent(EventTutorActionSent, sessionID),
		StudentID: studentID,
		Action:    action,
		Sequence:  sequence,
	}
}

// RoutingFailedEvent is emitted when Router.Process returns an error.
type RoutingFailedEvent struct {
	BaseEvent
	Shape string `json:"shape"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Payload implements Event interface.
func (e RoutingFailedEvent) Payload() map[string]any {
	return map[string]any{
		"shape": e.Shape,
		"kind":  e.Kind,
		"error": e.Error,
	}
}

// NewRoutingFailedEvent creates a new RoutingFailedEvent.
func NewRoutingFailedEvent(sessionID, shape string, err error) RoutingFailedEvent {
	return RoutingFailedEvent{
		BaseEvent: NewBaseEvent(EventRoutingFailed, sessionID),
		Shape:     shape,
		Kind:      ErrorKind(err),
		Error:     err.Error(),
	}
}

// ErrorKind names the taxonomy class of err for metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsProtocol(err):
		return "protocol"
	case IsLifecycle(err):
		return "lifecycle"
	case IsConfiguration(err):
		return "configuration"
	case IsExternalService(err):
		return "external"
	case IsNotFound(err):
		return "not_found"
	default:
		return "internal"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus ports
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
