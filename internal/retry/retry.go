// Package retry provides capped exponential backoff with jitter
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry, before jitter
	MaxDelay   time.Duration // cap applied after jitter
	MaxJitter  time.Duration // jitter drawn uniformly from [0, MaxJitter)
	RetryIf    func(error) bool
}

// DefaultConfig returns the notification dispatch retry policy
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   15 * time.Second,
		MaxJitter:  time.Second,
		RetryIf:    DefaultRetryIf,
	}
}

// Operation represents a retryable operation; attempt starts at 0
type Operation func(ctx context.Context, attempt int) error

// Result contains the result of a retry operation
type Result struct {
	Attempts int     // number of attempts made
	Errors   []error // one entry per failed attempt
	Err      error   // final error (nil if successful)
}

// Retrier provides retry functionality
type Retrier struct {
	config *Config
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Retrier
type Option func(*Retrier)

// WithSleep replaces the wait between attempts; tests pass a no-op
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// WithRand fixes the jitter source
func WithRand(rng *rand.Rand) Option {
	return func(r *Retrier) {
		r.rng = rng
	}
}

// New creates a new retrier with the given configuration
func New(config *Config, opts ...Option) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	r := &Retrier{
		config: config,
		sleep:  contextSleep,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Delay returns the wait before retry number retryCount (0-based):
// min(base * 2^retryCount + jitter, max)
func (r *Retrier) Delay(retryCount int) time.Duration {
	return Backoff(r.config.BaseDelay, r.config.MaxDelay, retryCount, r.jitter())
}

// Backoff is the pure backoff formula
func Backoff(base, maxDelay time.Duration, retryCount int, jitter time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	delay += jitter
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (r *Retrier) jitter() time.Duration {
	if r.config.MaxJitter <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.rng.Int63n(int64(r.config.MaxJitter)))
}

// Do executes op until it succeeds, returns a non-retryable error, or runs out of retries
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	result := &Result{}

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("context cancelled: %w", err)
			return result
		}

		result.Attempts++
		err := op(ctx, attempt)
		if err == nil {
			result.Err = nil
			return result
		}
		result.Errors = append(result.Errors, err)
		result.Err = err

		if !r.config.RetryIf(err) || attempt == r.config.MaxRetries {
			return result
		}

		if serr := r.sleep(ctx, r.Delay(attempt)); serr != nil {
			result.Err = fmt.Errorf("context cancelled during retry delay: %w", serr)
			return result
		}
	}
	return result
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoSleep skips waiting entirely
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// TemporaryError represents a temporary error that should be retried
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return fmt.Sprintf("temporary error: %v", e.Err)
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Temporary() bool {
	return true
}

// PermanentError represents a permanent error that should not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DefaultRetryIf retries everything except permanent errors and context cancellation
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
