// Package breaker implements a sliding-window circuit breaker used by the
// egress workers to stop hammering a destination adapter that is failing,
// and to probe it back to health once its cooldown elapses.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call when the breaker is blocking calls.
var ErrOpen = errors.New("breaker: circuit open")

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

type result struct {
	at time.Time
	ok bool
}

// Config tunes the window and thresholds. All fields must be positive for
// the breaker to ever trip.
type Config struct {
	Window           time.Duration // how far back results are considered
	Cooldown         time.Duration // time Open holds before probing HalfOpen
	FailureThreshold float64       // fraction of failures in-window that trips the breaker
	MinSamples       int           // minimum samples in-window before the threshold applies
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	results   []result
	openedAt  time.Time
	halfOpenInFlight bool
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow reports whether a call may proceed. When Open and the cooldown has
// elapsed, it transitions to HalfOpen and allows exactly one probe call
// through; subsequent calls during that probe return false until Record
// resolves it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = HalfOpen
		b.halfOpenInFlight = true
		return true
	case HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return true
}

// Record reports the outcome of a call that Allow most recently admitted.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == HalfOpen {
		b.halfOpenInFlight = false
		if ok {
			b.state = Closed
			b.results = nil
		} else {
			b.state = Open
			b.openedAt = now
			b.results = nil
		}
		return
	}

	b.results = append(b.results, result{at: now, ok: ok})
	b.trim(now)

	if len(b.results) < b.cfg.MinSamples {
		return
	}
	failures := 0
	for _, r := range b.results {
		if !r.ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.results))
	if rate >= b.cfg.FailureThreshold {
		b.state = Open
		b.openedAt = now
		b.results = nil
	}
}

func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.results) && b.results[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.results = b.results[i:]
	}
}

// State returns the current state for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn only if Allow permits it, records the outcome, and reports
// ErrOpen when the breaker is blocking calls.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	b.Record(err == nil)
	return err
}
