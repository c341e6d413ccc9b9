package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository for PostgreSQL. The event
// log is stored row per event and only ever appended to.
type SessionRepository struct {
	conn *Connection
}

var _ session.Repository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `id, student_id, group_id, class_id, active, start_time, end_time`

// Save implements session.Repository. The session row and its pending events
// are written in one transaction.
func (r *SessionRepository) Save(ctx context.Context, s *session.Session) error {
	pending := s.PendingEvents()
	first := len(s.Events) - len(pending)

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (`+sessionColumns+`, last_activity_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (id) DO UPDATE SET
				student_id = EXCLUDED.student_id,
				group_id = EXCLUDED.group_id,
				class_id = EXCLUDED.class_id,
				active = EXCLUDED.active,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				last_activity_at = EXCLUDED.last_activity_at,
				updated_at = NOW()
		`,
			s.ID, s.StudentID, s.GroupID, s.ClassID, s.Active,
			nullTime(s.StartTime), s.EndTime, nullTime(s.LastActivity()),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if len(pending) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, e := range pending {
			ctxJSON, err := json.Marshal(e.Context)
			if err != nil {
				return fmt.Errorf("marshal event context: %w", err)
			}
			batch.Queue(`
				INSERT INTO session_events (
					session_id, position, event_id, actor, verb, object,
					context, sequence, student_id, occurred_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (session_id, position) DO NOTHING
			`, s.ID, first+i, e.ID, string(e.Actor), e.Verb, e.Object, ctxJSON, e.Sequence, e.StudentID, e.Time)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}

	s.MarkPersisted()
	return nil
}

// GetByID implements session.Repository.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*session.Session, error) {
	sessions, err := r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, session.ErrSessionNotFound
	}
	return sessions[0], nil
}

// ListActive implements session.Repository.
func (r *SessionRepository) ListActive(ctx context.Context) ([]*session.Session, error) {
	return r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE active ORDER BY id`)
}

// ListIdle implements session.Repository.
func (r *SessionRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE active AND COALESCE(last_activity_at, start_time, created_at) < $1
		ORDER BY id
	`, cutoff)
}

func (r *SessionRepository) query(ctx context.Context, sql string, args ...any) ([]*session.Session, error) {
	rows, err := r.conn.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*session.Session, 0)
	byID := make(map[string]*session.Session)
	for rows.Next() {
		s := &session.Session{}
		var start *time.Time
		if err := rows.Scan(&s.ID, &s.StudentID, &s.GroupID, &s.ClassID, &s.Active, &start, &s.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if start != nil {
			s.StartTime = *start
		}
		sessions = append(sessions, s)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(sessions) > 0 {
		if err := r.loadEvents(ctx, byID); err != nil {
			return nil, err
		}
	}
	for _, s := range sessions {
		session.Restore(s)
	}
	return sessions, nil
}

func (r *SessionRepository) loadEvents(ctx context.Context, byID map[string]*session.Session) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT session_id, event_id, actor, verb, object, context, sequence, student_id, occurred_at
		FROM session_events
		WHERE session_id = ANY($1)
		ORDER BY session_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID, actor string
		var ctxJSON []byte
		e := &event.Event{}
		if err := rows.Scan(&sessionID, &e.ID, &actor, &e.Verb, &e.Object, &ctxJSON, &e.Sequence, &e.StudentID, &e.Time); err != nil {
			return fmt.Errorf("failed to scan session event: %w", err)
		}
		e.Actor = event.Actor(actor)
		e.SessionID = sessionID
		if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
			return fmt.Errorf("failed to decode event context: %w", err)
		}
		if s, ok := byID[sessionID]; ok {
			s.Events = append(s.Events, e)
		}
	}
	return rows.Err()
}
