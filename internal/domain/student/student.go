// Package student contains the learner record the router reads and updates
// when a session starts.
package student

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors for student package.
var (
	ErrStudentNotFound = errors.New("student: not found")
	ErrInvalidID       = errors.New("student: invalid ID")
)

// DefaultTempPrefix marks anonymous students created for a single session.
const DefaultTempPrefix = "TEMP-"

// Student is a learner known to the tutor.
type Student struct {
	ID                  string
	ClassID             string
	GroupID             string
	LastSignIn          time.Time
	LearnPortalEndpoint string
	TotalSessions       int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// New creates a student with no sessions.
func New(id string) (*Student, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	now := time.Now().UTC()
	return &Student{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// SignIn records a session start.
func (s *Student) SignIn(at time.Time, classID, groupID, learnPortal string) {
	s.LastSignIn = at
	s.ClassID = classID
	s.GroupID = groupID
	s.LearnPortalEndpoint = learnPortal
	s.TotalSessions++
}

// TempUserChecker decides whether a student id belongs to a temporary user.
type TempUserChecker struct {
	Prefix string
}

// IsTempUser reports whether id is a temporary (anonymous) student.
func (c TempUserChecker) IsTempUser(id string) bool {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultTempPrefix
	}
	return strings.HasPrefix(strings.ToUpper(id), strings.ToUpper(prefix))
}

// Repository persists students.
type Repository interface {
	// FindOrCreate returns the student with id, creating it if needed.
	FindOrCreate(ctx context.Context, id string) (*Student, error)

	// Save upserts the student.
	Save(ctx context.Context, s *Student) error

	// Delete removes the student.
	Delete(ctx context.Context, id string) error
}
