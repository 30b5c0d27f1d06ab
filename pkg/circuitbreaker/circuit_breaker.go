package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings configures a CircuitBreaker. Zero values fall back to defaults.
type Settings struct {
	Name string
	// MaxFailures is the number of consecutive failures that open the circuit.
	MaxFailures uint32
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls probes must succeed to close the circuit again.
	HalfOpenMaxCalls uint32
	// IsFailure decides whether an error counts against the circuit.
	// Defaults to every non-nil error except context cancellation.
	IsFailure func(err error) bool
	// OnStateChange is called with the lock released.
	OnStateChange func(name string, from, to State)
	Logger        *logrus.Logger
}

// CircuitBreaker guards calls to the WhatsApp gateway so a dead gateway
// fails fast instead of holding every dispatch worker for a full timeout.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu            sync.Mutex
	state         State
	failures      uint32
	openedAt      time.Time
	halfOpenCalls uint32
	successes     uint32
	requests      uint64
	rejected      uint64
}

// New creates a circuit breaker with default probing behaviour
func New(name string, maxFailures uint32, resetTimeout time.Duration) *CircuitBreaker {
	return NewWithSettings(Settings{
		Name:         name,
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
	})
}

// NewWithSettings creates a circuit breaker from explicit settings
func NewWithSettings(s Settings) *CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.HalfOpenMaxCalls == 0 {
		s.HalfOpenMaxCalls = 1
	}
	if s.IsFailure == nil {
		s.IsFailure = defaultIsFailure
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}
	return &CircuitBreaker{
		settings: s,
		now:      time.Now,
		state:    StateClosed,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit allows it and records the result
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	from := cb.state
	cb.advance()
	to := cb.state

	allowed := true
	switch cb.state {
	case StateOpen:
		allowed = false
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.settings.HalfOpenMaxCalls {
			allowed = false
		} else {
			cb.halfOpenCalls++
		}
	}
	if allowed {
		cb.requests++
	} else {
		cb.rejected++
	}
	state := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	if !allowed {
		return &CircuitBreakerError{Name: cb.settings.Name, State: state}
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	from := cb.state

	if cb.settings.IsFailure(err) {
		cb.failures++
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.settings.MaxFailures {
				cb.trip()
			}
		case StateHalfOpen:
			cb.trip()
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.settings.HalfOpenMaxCalls {
				cb.reset()
			}
		}
	}

	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to {
		entry := cb.settings.Logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.settings.Name,
			"state":           to.String(),
		})
		if to == StateOpen {
			entry.WithField("failures", failures).Warn("Circuit breaker opened due to failures")
		} else if to == StateClosed {
			entry.Info("Circuit breaker closed after successful recovery")
		}
	}
	cb.notify(from, to)
}

// advance moves an open circuit to half-open once the reset timeout elapsed.
// Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.settings.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.successes = 0
		cb.settings.Logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.settings.Name,
			"state":           "HALF_OPEN",
		}).Info("Circuit breaker transitioned to half-open")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenCalls = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// GetState returns the current state, promoting open to half-open when due
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	from := cb.state
	cb.advance()
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return to
}

// GetStats returns a snapshot of the breaker counters
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:     cb.settings.Name,
		State:    cb.state,
		Failures: cb.failures,
		Requests: cb.requests,
		Rejected: cb.rejected,
		OpenedAt: cb.openedAt,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string
	State    State
	Failures uint32
	Requests uint64
	Rejected uint64
	OpenedAt time.Time
}

// CircuitBreakerError is returned without calling through while the circuit is open
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if err, or anything it wraps, is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
