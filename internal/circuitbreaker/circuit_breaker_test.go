package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("push gateway 503")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	return New(&Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
		MaxProbes:        1,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		},
	})
}

func fail(context.Context) error    { return errDownstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDownstream)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDownstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, int64(1), cb.Stats().TotalRejections)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.now = clock.now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDownstream)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_ProbeLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.now = clock.now.Add(time.Minute)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyProbes)
		return nil
	})
	require.NoError(t, err)
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Stats().TotalFailures)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}
