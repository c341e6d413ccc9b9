// Package router is the entry point for every learner event. It binds the
// event to its session and student, asks a tutor for at most one action,
// delivers that action, persists state and ends the session when asked to.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guide-lms/guide-router/internal/application/sessions"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/internal/domain/student"
	"github.com/guide-lms/guide-router/internal/domain/tutor"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// DefaultChannel is the outbound channel name actions are emitted on.
const DefaultChannel = "event"

// Class ids substituted when a session start carries none.
const (
	ClassIDTemp        = "TEMP"
	ClassIDNotSent     = "NOT-SENT-BY-CLIENT"
	contextGroupID     = "groupId"
	contextClassID     = "classId"
	contextLearnPortal = "itsDBEndpoint"
)

// ErrMissingGroupID is returned when a session starts without context.groupId.
var ErrMissingGroupID = shared.NewDomainError("router", "Process", shared.ErrProtocol, "student.groupId is missing or undefined")

// Observer records per-event routing outcomes.
type Observer interface {
	ObserveEvent(shape string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveEvent(string, time.Duration, error) {}

// Config configures a Router.
type Config struct {
	// Channel is the outbound channel name. Defaults to DefaultChannel.
	Channel string
	// TempUsers identifies temporary students.
	TempUsers student.TempUserChecker
	// Normalizer, when set, corrects each event's context before the session
	// start checks read it.
	Normalizer event.Normalizer
}

// Dependencies are the collaborators of a Router.
type Dependencies struct {
	Students    student.Repository
	Sessions    session.Repository
	Tutors      tutor.Factory
	Deactivator sessions.Deactivator
	Publisher   shared.EventPublisher
	Observer    Observer
	Logger      *logger.Logger
}

// Router routes events. It holds no per-session state and may be shared, but
// events of one session must be passed to Process one at a time.
type Router struct {
	cfg         Config
	students    student.Repository
	sessions    session.Repository
	tutors      tutor.Factory
	deactivator sessions.Deactivator
	publisher   shared.EventPublisher
	observer    Observer
	log         *logger.Logger
}

// New creates a Router.
func New(cfg Config, deps Dependencies) *Router {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Router{
		cfg:         cfg,
		students:    deps.Students,
		sessions:    deps.Sessions,
		tutors:      deps.Tutors,
		deactivator: deps.Deactivator,
		publisher:   deps.Publisher,
		observer:    deps.Observer,
		log:         deps.Logger.With(logger.Component("router")),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// PROCESS
// ═══════════════════════════════════════════════════════════════════════════

// Process handles one event to completion.
func (r *Router) Process(ctx context.Context, sess *session.Session, ev *event.Event) (err error) {
	start := time.Now()
	log := r.log.With(logger.SessionID(sess.ID), logger.Shape(ev.Shape()), logger.Sequence(ev.Sequence))

	defer func() {
		r.observer.ObserveEvent(ev.Shape(), time.Since(start), err)
		if err != nil {
			log.Error("event processing failed", logger.Err(err))
			r.publish(log, shared.NewRoutingFailedEvent(sess.ID, ev.Shape(), err))
		}
	}()

	if ev.Context == nil {
		ev.Context = event.Context{}
	}
	if r.cfg.Normalizer != nil {
		r.cfg.Normalizer(ev)
	}

	// The group is normally bound at session start, but a session started
	// without one picks it up from any later event that carries it.
	if groupID := ev.Context.String(contextGroupID); groupID != "" {
		sess.GroupID = groupID
	}

	starting := ev.IsMatch(event.ActorSystem, event.VerbStarted, event.ObjectSession)
	if starting {
		if err := r.checkSessionStart(sess, ev); err != nil {
			return err
		}
		sess.Start(ev.StudentID, ev.Time)
		if err := r.sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("router: save started session: %w", err)
		}
	}

	if sess.StudentID == "" {
		sess.StudentID = ev.StudentID
	}
	st, err := r.students.FindOrCreate(ctx, sess.StudentID)
	if err != nil {
		return fmt.Errorf("router: find student %s: %w", sess.StudentID, err)
	}
	log = log.With(logger.StudentID(st.ID))

	sess.LogEvent(ev)

	action, err := r.handleEvent(ctx, log, st, sess, ev)
	if err != nil {
		return err
	}

	if action != nil {
		r.deliver(ctx, log, sess, ev, action)
	} else {
		log.Debug("no tutoring action recommended")
	}

	if err := r.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("router: save session: %w", err)
	}
	if err := r.students.Save(ctx, st); err != nil {
		return fmt.Errorf("router: save student: %w", err)
	}

	if ev.IsMatch(event.ActorSystem, event.VerbEnded, event.ObjectSession) {
		log.Info("session ended")
		if sess.Active {
			if err := r.deactivator.Deactivate(ctx, sess); err != nil {
				return fmt.Errorf("router: deactivate: %w", err)
			}
		}
	}
	return nil
}

// checkSessionStart fills in a missing classId and rejects a start without a
// groupId. It runs before anything is persisted.
func (r *Router) checkSessionStart(sess *session.Session, ev *event.Event) error {
	if ev.Context.String(contextClassID) == "" {
		studentID := ev.StudentID
		if studentID == "" {
			studentID = sess.StudentID
		}
		if r.cfg.TempUsers.IsTempUser(studentID) {
			ev.Context[contextClassID] = ClassIDTemp
		} else {
			ev.Context[contextClassID] = ClassIDNotSent
		}
	}

	if ev.Context.String(contextGroupID) == "" {
		return ErrMissingGroupID
	}
	return nil
}

func (r *Router) handleEvent(ctx context.Context, log *logger.Logger, st *student.Student, sess *session.Session, ev *event.Event) (*tutor.Action, error) {
	switch {
	case ev.IsMatch(event.ActorSystem, event.VerbStarted, event.ObjectSession):
		r.handleSystemStartedSession(log, st, sess, ev)
		return nil, nil

	case ev.IsMatch(event.ActorSystem, event.VerbEnded, event.ObjectSession):
		// Handled after the session is saved.
		return nil, nil

	case ev.IsMatch(event.ActorUser, event.Wildcard, event.Wildcard):
		return r.tutors.New(st, sess).Process(ctx, ev)

	default:
		log.Warn("unhandled message", logger.String("event", ev.String()))
		return nil, nil
	}
}

func (r *Router) handleSystemStartedSession(log *logger.Logger, st *student.Student, sess *session.Session, ev *event.Event) {
	log.Info("session started")

	classID := ev.Context.String(contextClassID)
	groupID := ev.Context.String(contextGroupID)

	st.SignIn(ev.Time, classID, groupID, ev.Context.String(contextLearnPortal))
	sess.ClassID = classID
	sess.GroupID = groupID

	r.publish(log, shared.NewSessionStartedEvent(sess.ID, st.ID, groupID, classID))
}

// deliver stamps the action with the triggering event's sequence, logs it in
// the session and emits it to the client. A failed emit does not stop the
// session from being saved.
func (r *Router) deliver(ctx context.Context, log *logger.Logger, sess *session.Session, ev *event.Event, action *tutor.Action) {
	action.Sequence = ev.Sequence
	action.StudentID = sess.StudentID
	action.SessionID = sess.ID

	log.Info("send tutor action", logger.String("action", action.Action))
	sess.LogEvent(action.ToEvent(sess.StudentID, sess.ID))

	if sess.Channel == nil {
		log.Warn("tutor action not delivered", logger.Err(session.ErrNoChannel))
		return
	}
	if err := sess.Channel.Emit(ctx, r.cfg.Channel, action); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debug("client went away before tutor action was delivered")
			return
		}
		log.Warn("tutor action not delivered", logger.Err(err))
		return
	}
	r.publish(log, shared.NewTutorActionSentEvent(sess.ID, sess.StudentID, action.Action, action.Sequence))
}

func (r *Router) publish(log *logger.Logger, e shared.Event) {
	if err := r.publisher.Publish(e); err != nil {
		log.Warn("failed to publish lifecycle event", logger.String("type", string(e.EventType())), logger.Err(err))
	}
}
