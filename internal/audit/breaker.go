// Package audit implements the circuit breaker that governs the
// AuditPublisher implementations' degraded mode (CLOSED / OPEN /
// HALF_OPEN with a failure threshold, a reset timeout, and a half-open
// probe budget).
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conclave-engine/conclave/internal/ports"
)

// ErrCircuitOpen is returned immediately when a call is attempted while
// the breaker is OPEN and its reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("audit circuit breaker is open")

// ErrCircuitHalfOpenRejected is returned when a HALF_OPEN probe budget
// has already been exhausted for the current trial window.
var ErrCircuitHalfOpenRejected = errors.New("audit circuit breaker half-open probe budget exhausted")

// BreakerConfig tunes the circuit breaker (§6 audit section).
type BreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// DefaultBreakerConfig mirrors the defaults named in SPEC_FULL.md §6.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// Stats snapshots a breaker's lifetime counters.
type Stats struct {
	TotalRequests        int64
	TotalSuccesses        int64
	TotalFailures         int64
	ConsecutiveFailures   int
}

// StateListener is notified on every breaker state transition.
type StateListener func(oldState, newState ports.CircuitState)

// Breaker wraps a raw publish function with CLOSED/OPEN/HALF_OPEN gating.
// Publish failures never propagate to callers as fatal: AuditPublisher
// implementations are explicitly non-critical-path (§4.4/§6).
type Breaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	state ports.CircuitState

	consecutiveFailures int
	halfOpenSuccesses   int
	halfOpenInFlight    int
	openedAt            time.Time

	stats     Stats
	listeners []StateListener
}

// NewBreaker constructs a Breaker starting CLOSED.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: ports.CircuitClosed}
}

// NewDefaultBreaker constructs a Breaker with DefaultBreakerConfig.
func NewDefaultBreaker() *Breaker {
	return NewBreaker(DefaultBreakerConfig())
}

// AddListener registers a callback fired on every state transition.
func (b *Breaker) AddListener(l StateListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// State returns the breaker's current state.
func (b *Breaker) State() ports.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker's gate, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)

	b.afterCall(err == nil)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case ports.CircuitOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transitionTo(ports.CircuitHalfOpen)
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 1
		return nil
	case ports.CircuitHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxRequests {
			return ErrCircuitHalfOpenRejected
		}
		b.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.TotalRequests++
	if success {
		b.stats.TotalSuccesses++
	} else {
		b.stats.TotalFailures++
	}

	switch b.state {
	case ports.CircuitClosed:
		if success {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		b.stats.ConsecutiveFailures = b.consecutiveFailures
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transitionTo(ports.CircuitOpen)
			b.openedAt = time.Now()
		}
	case ports.CircuitHalfOpen:
		if !success {
			b.transitionTo(ports.CircuitOpen)
			b.openedAt = time.Now()
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transitionTo(ports.CircuitClosed)
			b.consecutiveFailures = 0
			b.halfOpenInFlight = 0
			b.stats.ConsecutiveFailures = 0
		}
	}
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(newState ports.CircuitState) {
	old := b.state
	b.state = newState
	listeners := append([]StateListener(nil), b.listeners...)
	go func() {
		for _, l := range listeners {
			l(old, newState)
		}
	}()
}

// GetStats returns a snapshot of the breaker's lifetime counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset forces the breaker back to CLOSED, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(ports.CircuitClosed)
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.stats.ConsecutiveFailures = 0
}
