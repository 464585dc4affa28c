// Package resilience provides reliability patterns for model provider calls:
// a circuit breaker in front of the provider and the shared failure counters
// that drive model fallback.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker stops calling a provider after maxFailures consecutive counted
// failures. After cooldown a single probe call is let through; its outcome
// closes or reopens the circuit. Other callers are rejected while the probe
// is in flight.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	counts      func(error) bool
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. name appears in transition logs.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		counts:      func(error) bool { return true },
		now:         time.Now,
		state:       StateClosed,
	}
}

// WithClassifier restricts which errors count toward tripping the breaker.
// Uncounted errors leave the failure count untouched, so a caller's own bad
// requests never open the circuit.
func (b *Breaker) WithClassifier(counts func(error) bool) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = counts
	return b
}

// State reports the current position. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return b.State() == StateOpen
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.transition(StateClosed)
	case b.counts(err):
		b.failures++
		if probe || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case probe:
		// An uncounted error says nothing about provider health; let the
		// next call probe again.
		b.transition(StateHalfOpen)
	}
	return err
}

// admit decides whether a call may proceed and whether it is the probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(StateHalfOpen)
	}
	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return false, false
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	slog.Warn("circuit breaker state change", "breaker", b.name, "from", b.state, "to", to, "failures", b.failures)
	b.state = to
}
