// Package resilience guards calls to flaky dependencies: a three-state
// [CircuitBreaker] and a [FallbackGroup] that fails over between
// equivalent backends, each behind its own breaker.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running
// it.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the consecutive failure count that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the open period before probing. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes allowed, and the number of
	// successes required to close. Default 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Execute runs fn unless the breaker is open, and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.probes, cb.probeSuccesses = 0, 0
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	probe = cb.state == StateHalfOpen
	if probe {
		cb.probes++
	}
	cb.mu.Unlock()

	if changed {
		cb.transitioned(from, StateHalfOpen)
	}
	return probe, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err != nil && probe:
		cb.lastFailure = cb.now()
		cb.state = StateOpen
	case err != nil:
		cb.lastFailure = cb.now()
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.maxFailures {
			cb.state = StateOpen
		}
	case probe:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
		}
	default:
		cb.consecutiveFail = 0
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.transitioned(from, to)
	}
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.name, "from", from)
	} else {
		slog.Info("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
	cb.mu.Unlock()
	if from != StateClosed {
		cb.transitioned(from, StateClosed)
	}
}
