// Package noop provides the zero-dependency AuditPublisher used when
// AUDIT_BACKEND=noop: every publish succeeds instantly and the breaker
// never trips (§6).
package noop

import (
	"context"

	"github.com/conclave-engine/conclave/internal/ports"
)

// Publisher discards every audit message.
type Publisher struct{}

var _ ports.AuditPublisher = (*Publisher)(nil)

// New constructs a no-op publisher.
func New() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(ctx context.Context, topic string, message ports.AuditMessage) error {
	return nil
}

func (p *Publisher) State() ports.CircuitState { return ports.CircuitClosed }
