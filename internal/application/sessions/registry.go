package sessions

import (
	"errors"
	"sync"

	"github.com/guide-lms/guide-router/internal/domain/session"
)

// ErrAttached is returned when a session is already served by a connection.
var ErrAttached = errors.New("sessions: session already attached to a connection")

// Registry tracks the sessions currently served by a live connection. A live
// session is only touched under its lease, so the connection's event loop and
// background deactivation never work on it at the same time.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Lease
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Lease)}
}

// Lease is the exclusive right of one connection to a live session.
type Lease struct {
	mu   sync.Mutex
	sess *session.Session
	reg  *Registry
}

// Attach registers sess as live. It fails with ErrAttached when another
// connection holds the same session id.
func (r *Registry) Attach(sess *session.Session) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[sess.ID]; ok {
		return nil, ErrAttached
	}
	l := &Lease{sess: sess, reg: r}
	r.live[sess.ID] = l
	return l, nil
}

// Do runs fn on the leased session while holding the lease.
func (l *Lease) Do(fn func(*session.Session)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.sess)
}

// Release removes the session from the registry.
func (l *Lease) Release() {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if l.reg.live[l.sess.ID] == l {
		delete(l.reg.live, l.sess.ID)
	}
}

// Do runs fn on the live session with the given id under its lease and
// reports true, or reports false when no connection holds it.
func (r *Registry) Do(id string, fn func(*session.Session)) bool {
	r.mu.Lock()
	l, ok := r.live[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	l.Do(fn)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
