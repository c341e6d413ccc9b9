package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/internal/domain/student"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/memory"
)

type recordingPublisher struct {
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func newActiveSession(t *testing.T, id, studentID string, start time.Time) *session.Session {
	t.Helper()
	s, err := session.New(id)
	require.NoError(t, err)
	s.Start(studentID, start)
	return s
}

func setup(t *testing.T) (*Service, *memory.SessionRepository, *memory.StudentRepository, *recordingPublisher) {
	t.Helper()
	sessions := memory.NewSessionRepository()
	students := memory.NewStudentRepository()
	pub := &recordingPublisher{}
	svc := NewService(sessions, students, student.TempUserChecker{}, pub, nil)
	return svc, sessions, students, pub
}

func TestDeactivate_EndTimeIsLastEvent(t *testing.T) {
	svc, sessions, _, pub := setup(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := newActiveSession(t, "s1", "student-1", start)

	ev := event.New(event.ActorUser, event.VerbSubmitted, event.ObjectOrganism, nil)
	ev.Time = start.Add(5 * time.Minute)
	sess.LogEvent(ev)

	require.NoError(t, svc.Deactivate(context.Background(), sess))

	assert.False(t, sess.Active)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, ev.Time, *sess.EndTime)
	assert.Equal(t, []string{"s1"}, sessions.Saves())

	require.Len(t, pub.events, 1)
	assert.Equal(t, shared.EventSessionEnded, pub.events[0].EventType())
	assert.Equal(t, "5m0s", pub.events[0].Payload()["duration"])
}

func TestDeactivate_EmptyLogUsesNow(t *testing.T) {
	svc, _, _, _ := setup(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	sess := newActiveSession(t, "s1", "student-1", now.Add(-time.Hour))
	require.NoError(t, svc.Deactivate(context.Background(), sess))
	assert.Equal(t, now, *sess.EndTime)
}

func TestDeactivate_DeletesTempStudent(t *testing.T) {
	svc, _, students, _ := setup(t)
	ctx := context.Background()

	_, err := students.FindOrCreate(ctx, "TEMP-123")
	require.NoError(t, err)
	_, err = students.FindOrCreate(ctx, "regular")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, newActiveSession(t, "s1", "TEMP-123", time.Now())))
	require.NoError(t, svc.Deactivate(ctx, newActiveSession(t, "s2", "regular", time.Now())))

	_, ok := students.Get("TEMP-123")
	assert.False(t, ok)
	_, ok = students.Get("regular")
	assert.True(t, ok)
}

func TestDeactivate_SaveFailureKeepsStudent(t *testing.T) {
	svc, sessions, students, _ := setup(t)
	ctx := context.Background()
	sessions.SaveErr = errors.New("db down")
	_, err := students.FindOrCreate(ctx, "temp-1")
	require.NoError(t, err)

	err = svc.Deactivate(ctx, newActiveSession(t, "s1", "temp-1", time.Now()))
	require.Error(t, err)

	_, ok := students.Get("temp-1")
	assert.True(t, ok)
}

func TestDeactivateAll(t *testing.T) {
	svc, sessions, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, sessions.Save(ctx, newActiveSession(t, "a", "s-a", time.Now())))
	require.NoError(t, sessions.Save(ctx, newActiveSession(t, "b", "s-b", time.Now())))
	ended := newActiveSession(t, "c", "s-c", time.Now())
	ended.Deactivate(time.Now())
	require.NoError(t, sessions.Save(ctx, ended))

	n, err := svc.DeactivateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := sessions.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweepIdle(t *testing.T) {
	svc, sessions, _, pub := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	idle := newActiveSession(t, "idle", "s-1", now.Add(-2*time.Hour))
	busy := newActiveSession(t, "busy", "s-2", now.Add(-2*time.Hour))
	recent := event.New(event.ActorUser, event.VerbChanged, event.ObjectAllele, nil)
	recent.Time = now.Add(-time.Minute)
	busy.LogEvent(recent)

	require.NoError(t, sessions.Save(ctx, idle))
	require.NoError(t, sessions.Save(ctx, busy))

	n, err := svc.SweepIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := sessions.GetByID(ctx, "idle")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	stored, err = sessions.GetByID(ctx, "busy")
	require.NoError(t, err)
	assert.True(t, stored.Active)

	require.Len(t, pub.events, 1)
	assert.Equal(t, ReasonIdleTimeout, pub.events[0].Payload()["reason"])
}

func TestSweepIdle_AttachedSessionEndsThroughLease(t *testing.T) {
	svc, sessions, _, _ := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	live := newActiveSession(t, "live", "s-1", now.Add(-2*time.Hour))
	require.NoError(t, sessions.Save(ctx, live))

	lease, err := svc.Live().Attach(live)
	require.NoError(t, err)
	defer lease.Release()

	n, err := svc.SweepIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, live.Active, "the connection's own session is ended, not a stored copy")
}

func TestSweepIdle_SkipsAttachedSessionActiveSinceListing(t *testing.T) {
	svc, sessions, _, pub := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	live := newActiveSession(t, "live", "s-1", now.Add(-2*time.Hour))
	require.NoError(t, sessions.Save(ctx, live))

	lease, err := svc.Live().Attach(live)
	require.NoError(t, err)
	defer lease.Release()

	// Logged on the connection but not yet saved.
	recent := event.New(event.ActorUser, event.VerbChanged, event.ObjectAllele, nil)
	recent.Time = now.Add(-time.Minute)
	lease.Do(func(s *session.Session) { s.LogEvent(recent) })

	n, err := svc.SweepIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, live.Active)
	assert.Empty(t, pub.events)
}

func TestDeactivateAll_AttachedSession(t *testing.T) {
	svc, sessions, _, _ := setup(t)
	ctx := context.Background()

	live := newActiveSession(t, "live", "s-1", time.Now())
	require.NoError(t, sessions.Save(ctx, live))
	lease, err := svc.Live().Attach(live)
	require.NoError(t, err)
	defer lease.Release()

	n, err := svc.DeactivateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, live.Active)

	active, err := sessions.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
