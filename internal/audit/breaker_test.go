package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/ports"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := NewDefaultBreaker()
	assert.Equal(t, ports.CircuitClosed, b.State())
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 2})

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	assert.Equal(t, ports.CircuitOpen, b.State())
}

func TestBreakerRejectsWhenOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 1})

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, ports.CircuitOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, ErrCircuitOpen, err)
}

func TestBreakerTransitionsToHalfOpenThenCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxRequests: 5})

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, ports.CircuitOpen, b.State())

	time.Sleep(75 * time.Millisecond)

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, ports.CircuitHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, ports.CircuitClosed, b.State())
}

func TestBreakerReopensOnFailureInHalfOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxRequests: 5})

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(75 * time.Millisecond)

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still failing") })
	assert.Equal(t, ports.CircuitOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 1})

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, ports.CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, ports.CircuitClosed, b.State())
	assert.Equal(t, 0, b.GetStats().ConsecutiveFailures)
}
