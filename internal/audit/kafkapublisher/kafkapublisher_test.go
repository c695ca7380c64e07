package kafkapublisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conclave-engine/conclave/internal/audit"
	"github.com/conclave-engine/conclave/internal/ports"
)

func TestWriterForReusesWriterPerTopic(t *testing.T) {
	p := New(DefaultConfig())
	defer p.Close()

	w1 := p.writerFor("votes.cast")
	w2 := p.writerFor("votes.cast")
	w3 := p.writerFor("votes.validated")

	assert.Same(t, w1, w2)
	assert.NotSame(t, w1, w3)
}

func TestPublishUnreachableBrokerTripsBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = []string{"127.0.0.1:1"}
	cfg.Breaker = audit.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxRequests: 1}
	p := New(cfg)
	defer p.Close()

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		_ = p.Publish(ctx, "votes.cast", ports.AuditMessage{VoteID: "v1", Timestamp: time.Now()})
		cancel()
	}

	assert.Equal(t, ports.CircuitOpen, p.State())
}
