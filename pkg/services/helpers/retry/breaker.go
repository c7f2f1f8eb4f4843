package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Execute without calling the protected
// function while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// State is a circuit breaker state.
type State byte

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

// String implements fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker. After Threshold failures
// in a row it opens and rejects calls for Cooldown. The first call after the
// cooldown is a trial: success closes the breaker, failure opens it for
// another Cooldown.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration
	// Now is used instead of time.Now if set.
	Now func() time.Time

	lock      sync.Mutex
	fails     int
	openUntil time.Time
	trial     bool
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state(b.now())
}

func (b *Breaker) state(now time.Time) State {
	switch {
	case b.openUntil.IsZero():
		return Closed
	case now.Before(b.openUntil):
		return Open
	default:
		return HalfOpen
	}
}

// Execute calls f unless the breaker is open and records its result. Only one
// trial call is let through in half-open state, concurrent ones are rejected.
func (b *Breaker) Execute(f func() error) error {
	b.lock.Lock()
	switch b.state(b.now()) {
	case Open:
		b.lock.Unlock()
		return ErrBreakerOpen
	case HalfOpen:
		if b.trial {
			b.lock.Unlock()
			return ErrBreakerOpen
		}
		b.trial = true
	}
	b.lock.Unlock()

	err := f()

	b.lock.Lock()
	defer b.lock.Unlock()
	b.trial = false
	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		return nil
	}
	b.fails++
	if b.fails >= b.Threshold {
		b.openUntil = b.now().Add(b.Cooldown)
	}
	return err
}
