package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guide-lms/guide-router/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

var _ student.Repository = (*StudentRepository)(nil)

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

const studentColumns = `id, class_id, group_id, last_sign_in, learn_portal_endpoint,
	total_sessions, created_at, updated_at`

// FindOrCreate implements student.Repository. A concurrent insert of the same
// id is resolved by ON CONFLICT.
func (r *StudentRepository) FindOrCreate(ctx context.Context, id string) (*student.Student, error) {
	s, err := student.New(id)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO students (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING ` + studentColumns

	found, err := scanStudent(r.conn.Pool().QueryRow(ctx, query, s.ID, s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to find or create student %s: %w", id, err)
	}
	return found, nil
}

// GetByID returns a student by id.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	s, err := scanStudent(r.conn.Pool().QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, student.ErrStudentNotFound
	}
	return s, err
}

// Save implements student.Repository.
func (r *StudentRepository) Save(ctx context.Context, s *student.Student) error {
	s.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO students (` + studentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			class_id = EXCLUDED.class_id,
			group_id = EXCLUDED.group_id,
			last_sign_in = EXCLUDED.last_sign_in,
			learn_portal_endpoint = EXCLUDED.learn_portal_endpoint,
			total_sessions = EXCLUDED.total_sessions,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.conn.Pool().Exec(ctx, query,
		s.ID,
		s.ClassID,
		s.GroupID,
		nullTime(s.LastSignIn),
		s.LearnPortalEndpoint,
		s.TotalSessions,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// Delete implements student.Repository.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.conn.Pool().Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return student.ErrStudentNotFound
	}
	return nil
}

func scanStudent(row pgx.Row) (*student.Student, error) {
	var s student.Student
	var lastSignIn *time.Time

	err := row.Scan(
		&s.ID,
		&s.ClassID,
		&s.GroupID,
		&lastSignIn,
		&s.LearnPortalEndpoint,
		&s.TotalSessions,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSignIn != nil {
		s.LastSignIn = *lastSignIn
	}
	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
