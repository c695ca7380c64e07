// Package kafkapublisher implements the AuditPublisher port on top of
// segmentio/kafka-go, one Writer per topic, gated by a circuit breaker
// so a struggling broker never blocks core vote-validation progress
// (§4.4, §6).
package kafkapublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/conclave-engine/conclave/internal/audit"
	"github.com/conclave-engine/conclave/internal/ports"
)

// Config tunes the Kafka-backed publisher.
type Config struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	Breaker      audit.BreakerConfig
}

// DefaultConfig mirrors the teacher's messaging-broker defaults, adapted
// to this engine's audit publishing needs.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "conclave",
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Breaker:      audit.DefaultBreakerConfig(),
	}
}

// Publisher publishes audit messages to Kafka, one topic per writer.
type Publisher struct {
	cfg     Config
	breaker *audit.Breaker

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

var _ ports.AuditPublisher = (*Publisher)(nil)

// New constructs a Kafka-backed AuditPublisher.
func New(cfg Config) *Publisher {
	return &Publisher{
		cfg:     cfg,
		breaker: audit.NewBreaker(cfg.Breaker),
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *Publisher) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        topic,
		BatchTimeout: p.cfg.BatchTimeout,
		RequiredAcks: p.cfg.RequiredAcks,
	}
	p.writers[topic] = w
	return w
}

// Publish writes an audit message to the given topic, gated by the
// breaker. A breaker rejection is returned to the caller but must never
// be treated as a fatal error by core code: AuditPublisher is
// non-critical-path (§6).
func (p *Publisher) Publish(ctx context.Context, topic string, message ports.AuditMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		w := p.writerFor(topic)
		return w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(message.VoteID),
			Value: payload,
			Time:  message.Timestamp,
		})
	})
}

// State reports the breaker's current circuit state.
func (p *Publisher) State() ports.CircuitState { return p.breaker.State() }

// Close closes every topic writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
