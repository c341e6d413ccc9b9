// Package sessions ends tutoring sessions: on an explicit session end, from
// the administrative deactivate-all action, and from the idle sweeper.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/internal/domain/student"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// Reasons attached to session.ended notifications.
const (
	ReasonEnded       = "ended"
	ReasonAdmin       = "admin"
	ReasonIdleTimeout = "idle_timeout"
)

// Deactivator ends one session.
type Deactivator interface {
	Deactivate(ctx context.Context, sess *session.Session) error
}

// Service ends sessions and removes the temporary students they belonged to.
type Service struct {
	sessions  session.Repository
	students  student.Repository
	tempUsers student.TempUserChecker
	publisher shared.EventPublisher
	live      *Registry
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates a Service. publisher may be nil.
func NewService(
	sessions session.Repository,
	students student.Repository,
	tempUsers student.TempUserChecker,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *Service {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		sessions:  sessions,
		students:  students,
		tempUsers: tempUsers,
		publisher: publisher,
		live:      NewRegistry(),
		log:       log.With(logger.Component("sessions")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Live returns the registry of sessions attached to a connection. Bulk
// deactivation ends those through their lease instead of a stored copy.
func (s *Service) Live() *Registry {
	return s.live
}

// Deactivate ends sess. EndTime is the time of its last logged event, or now
// when it has none. The session is saved before a temporary student is deleted.
func (s *Service) Deactivate(ctx context.Context, sess *session.Session) error {
	return s.deactivate(ctx, sess, ReasonEnded)
}

func (s *Service) deactivate(ctx context.Context, sess *session.Session, reason string) error {
	log := s.log.With(logger.SessionID(sess.ID), logger.StudentID(sess.StudentID))
	log.Info("session deactivate", logger.String("reason", reason))

	sess.Deactivate(s.now())
	if err := s.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("sessions: save %s: %w", sess.ID, err)
	}

	if s.tempUsers.IsTempUser(sess.StudentID) {
		log.Info("delete temp user")
		if err := s.students.Delete(ctx, sess.StudentID); err != nil {
			return fmt.Errorf("sessions: delete temp student %s: %w", sess.StudentID, err)
		}
	}

	duration := sess.EndTime.Sub(sess.StartTime)
	if sess.StartTime.IsZero() || duration < 0 {
		duration = 0
	}
	if err := s.publisher.Publish(shared.NewSessionEndedEvent(sess.ID, sess.StudentID, duration, len(sess.Events), reason)); err != nil {
		log.Warn("failed to publish session ended", logger.Err(err))
	}
	return nil
}

// DeactivateAll ends every active session. Failures are logged and counted;
// the remaining sessions are still processed.
func (s *Service) DeactivateAll(ctx context.Context) (int, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("sessions: list active: %w", err)
	}
	s.log.Info("deactivate all sessions", logger.Int("count", len(active)))
	return s.deactivateEach(ctx, active, ReasonAdmin, func(sess *session.Session) bool {
		return sess.Active
	})
}

// SweepIdle ends active sessions with no activity for longer than idle.
func (s *Service) SweepIdle(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := s.now().Add(-idle)
	stale, err := s.sessions.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sessions: list idle: %w", err)
	}
	if len(stale) > 0 {
		s.log.Info("sweeping idle sessions", logger.Int("count", len(stale)), logger.Duration("idle", idle))
	}
	return s.deactivateEach(ctx, stale, ReasonIdleTimeout, func(sess *session.Session) bool {
		return sess.Active && sess.LastActivity().Before(cutoff)
	})
}

// deactivateEach ends every listed session. A session attached to a
// connection is ended through its lease, and only if still eligible there.
func (s *Service) deactivateEach(ctx context.Context, list []*session.Session, reason string, eligible func(*session.Session) bool) (int, error) {
	done := 0
	var firstErr error
	for _, sess := range list {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		var err error
		ended := false
		attached := s.live.Do(sess.ID, func(live *session.Session) {
			if !eligible(live) {
				return
			}
			err = s.deactivate(ctx, live, reason)
			ended = err == nil
		})
		if !attached {
			err = s.deactivate(ctx, sess, reason)
			ended = err == nil
		}

		if err != nil {
			s.log.Error("failed to deactivate session", logger.SessionID(sess.ID), logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ended {
			done++
		}
	}
	return done, firstErr
}
