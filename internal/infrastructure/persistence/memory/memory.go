// Package memory provides process-local repositories. They back the router
// when no database is configured and serve as fakes in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guide-lms/guide-router/internal/domain/group"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository stores detached copies of sessions, as a database would.
// Save records the saved ids so tests can assert persistence order.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	saves    []string

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*session.Session)}
}

// Save implements session.Repository.
func (r *SessionRepository) Save(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	s.MarkPersisted()
	r.sessions[s.ID] = s.Clone()
	r.saves = append(r.saves, s.ID)
	return nil
}

// GetByID implements session.Repository.
func (r *SessionRepository) GetByID(_ context.Context, id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListActive implements session.Repository.
func (r *SessionRepository) ListActive(_ context.Context) ([]*session.Session, error) {
	return r.list(func(s *session.Session) bool { return s.Active }), nil
}

// ListIdle implements session.Repository.
func (r *SessionRepository) ListIdle(_ context.Context, cutoff time.Time) ([]*session.Session, error) {
	return r.list(func(s *session.Session) bool {
		return s.Active && s.LastActivity().Before(cutoff)
	}), nil
}

func (r *SessionRepository) list(keep func(*session.Session) bool) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Saves returns the ids passed to Save, in call order.
func (r *SessionRepository) Saves() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.saves))
	copy(out, r.saves)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository stores students by id.
type StudentRepository struct {
	mu       sync.RWMutex
	students map[string]*student.Student
	saves    int
}

// NewStudentRepository creates an empty StudentRepository.
func NewStudentRepository() *StudentRepository {
	return &StudentRepository{students: make(map[string]*student.Student)}
}

// FindOrCreate implements student.Repository.
func (r *StudentRepository) FindOrCreate(_ context.Context, id string) (*student.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.students[id]; ok {
		return s, nil
	}
	s, err := student.New(id)
	if err != nil {
		return nil, err
	}
	r.students[id] = s
	return s, nil
}

// Save implements student.Repository.
func (r *StudentRepository) Save(_ context.Context, s *student.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
	r.students[s.ID] = s
	r.saves++
	return nil
}

// Delete implements student.Repository.
func (r *StudentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[id]; !ok {
		return student.ErrStudentNotFound
	}
	delete(r.students, id)
	return nil
}

// Get returns the stored student, if any.
func (r *StudentRepository) Get(id string) (*student.Student, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[id]
	return s, ok
}

// SaveCount returns how many times Save was called.
func (r *StudentRepository) SaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository stores groups by name.
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*group.Group
}

// NewGroupRepository creates a GroupRepository holding groups.
func NewGroupRepository(groups ...*group.Group) *GroupRepository {
	r := &GroupRepository{groups: make(map[string]*group.Group)}
	for _, g := range groups {
		r.groups[g.Name] = g
	}
	return r
}

// FindByName implements group.Repository.
func (r *GroupRepository) FindByName(_ context.Context, name string) (*group.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, group.ErrGroupNotFound
	}
	return g, nil
}

// Save implements group.Repository.
func (r *GroupRepository) Save(_ context.Context, g *group.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Name] = g
	return nil
}

var (
	_ session.Repository = (*SessionRepository)(nil)
	_ student.Repository = (*StudentRepository)(nil)
	_ group.Repository   = (*GroupRepository)(nil)
)
