// Package circuitbreaker fails calls fast while a dependency keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without calling the operation while the breaker is
// open, or while its single half-open probe is in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configure a Breaker.
type Settings struct {
	Name string

	// Failures in a row that open the breaker. Default 5.
	Failures int

	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration

	// IsFailure decides which errors count. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange runs with the lock released.
	OnStateChange func(name string, from, to State)
}

// Breaker is a consecutive-failure circuit breaker. A half-open breaker lets
// one probe through; its outcome closes or reopens the breaker.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	if s.Failures <= 0 {
		s.Failures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return &Breaker{settings: s, now: time.Now}
}

// Do runs op unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// State returns the current state. An open breaker past its cooldown still
// reports Open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns Settings.Name.
func (b *Breaker) Name() string { return b.settings.Name }

func (b *Breaker) acquire() error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.settings.Cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		notify := b.transition(HalfOpen)
		b.probing = true
		b.mu.Unlock()
		notify()
		return nil
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()
	return nil
}

func (b *Breaker) record(err error) {
	failed := err != nil
	if failed && b.settings.IsFailure != nil {
		failed = b.settings.IsFailure(err)
	}

	b.mu.Lock()
	notify := func() {}
	switch {
	case b.state == HalfOpen && failed:
		notify = b.transition(Open)
	case b.state == HalfOpen:
		notify = b.transition(Closed)
	case failed:
		b.failures++
		if b.failures >= b.settings.Failures {
			notify = b.transition(Open)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()
	notify()
}

// transition must be called with mu held. The returned func runs the
// callback and must be called after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	b.failures = 0
	b.probing = false
	if to == Open {
		b.openedAt = b.now()
	}
	cb := b.settings.OnStateChange
	if cb == nil || from == to {
		return func() {}
	}
	name := b.settings.Name
	return func() { cb(name, from, to) }
}
