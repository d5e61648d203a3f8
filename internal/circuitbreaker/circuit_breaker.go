// Package circuitbreaker guards the notification dispatcher against a failing downstream
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
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

var (
	// ErrCircuitOpen is returned while the breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe slots are taken
	ErrTooManyProbes = errors.New("circuit breaker half-open probe limit reached")
)

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes before closing
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
	// MaxProbes limits concurrent calls while half-open
	MaxProbes int
	// OnStateChange is called with the lock released
	OnStateChange func(from, to State)
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

// Stats is a point-in-time snapshot
type Stats struct {
	State               State
	ConsecutiveFailures int
	TotalRequests       int64
	TotalFailures       int64
	TotalRejections     int64
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config *Config

	mu          sync.Mutex
	state       State
	openedAt    time.Time
	failures    int
	successes   int
	probes      int
	requests    int64
	failTotal   int64
	rejectTotal int64
}

// New creates a new circuit breaker
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn if the breaker admits it and records the outcome.
// Context cancellation is not counted as a downstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current state, promoting open to half-open when the timeout elapsed
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.config.Now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Stats returns counters for metrics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		TotalRequests:       cb.requests,
		TotalFailures:       cb.failTotal,
		TotalRejections:     cb.rejectTotal,
	}
}

// Reset forces the breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			cb.rejectTotal++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successes, cb.probes = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			cb.rejectTotal++
			to := cb.state
			cb.mu.Unlock()
			cb.notify(from, to)
			return ErrTooManyProbes
		}
		cb.probes++
	}
	cb.requests++
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	if errors.Is(err, context.Canceled) {
		cb.mu.Lock()
		if cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
		cb.mu.Unlock()
		return
	}

	cb.mu.Lock()
	from := cb.state
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if err != nil {
		cb.failTotal++
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.config.Now()
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.successes = 0
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
