package retry

import (
	"fmt"
	"sync"
	"time"

	lerrors "lifod/internal/errors"
)

// State is where a [CircuitBreaker] stands with respect to the daemon.
type State int

const (
	// StateClosed: the daemon answers, calls go through.
	StateClosed State = iota
	// StateOpen: the daemon stopped answering, calls fail fast until
	// ResetTimeout has passed.
	StateOpen
	// StateHalfOpen: calls go through again, and HalfOpenMax successes
	// in a row close the circuit.  Any failure reopens it.
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

// CircuitBreakerConfig configures a [CircuitBreaker].  Zero fields take
// the values of [DefaultCircuitBreakerConfig].
type CircuitBreakerConfig struct {
	// MaxFailures is how many failures in a row open the circuit.
	MaxFailures int
	// ResetTimeout is how long an open circuit refuses calls.
	ResetTimeout time.Duration
	// HalfOpenMax is how many successes in a row close a half-open
	// circuit.
	HalfOpenMax int
	// OnStateChange runs on every transition, under the breaker's lock.
	OnStateChange func(from, to State)
	// IsFailure picks the errors that count against the daemon.  Nil
	// counts every error.  A stack that is full or empty is a healthy
	// daemon answering, so callers usually count transport errors only.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns 5 failures, 30s open, 2 successes.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  2,
	}
}

// CircuitBreaker stops an interactive client from redialling a daemon
// that has gone away on every command.  It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker returns a closed breaker.  A nil cfg means the
// defaults.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	c := *DefaultCircuitBreakerConfig()
	if cfg != nil {
		c.OnStateChange, c.IsFailure = cfg.OnStateChange, cfg.IsFailure
		if cfg.MaxFailures > 0 {
			c.MaxFailures = cfg.MaxFailures
		}
		if cfg.ResetTimeout > 0 {
			c.ResetTimeout = cfg.ResetTimeout
		}
		if cfg.HalfOpenMax > 0 {
			c.HalfOpenMax = cfg.HalfOpenMax
		}
	}
	return &CircuitBreaker{cfg: c}
}

// Execute calls fn unless the circuit is open, in which case it returns
// an error matching [lerrors.ErrCircuitOpen] without calling fn.  fn's
// own error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// CurrentState returns the breaker's state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the failures counted in a row.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes = 0, 0
	cb.setState(StateClosed)
}

// admit moves an open circuit to half-open once ResetTimeout has passed
// and refuses the call while it is still open.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	wait := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
	if wait < 0 {
		cb.setState(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		lerrors.ErrCircuitOpen, cb.failures, wait.Truncate(time.Second))
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = time.Now()
			cb.setState(StateOpen)
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
