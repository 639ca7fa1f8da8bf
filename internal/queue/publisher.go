package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
)

// Publisher sends saga envelopes to an exchange with a routing key.
// Services depend on this interface so tests can capture publishes.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, env Envelope) error
}

// AMQPPublisher is a Publisher over a long-lived broker connection. The
// channel is guarded by a mutex because amqp channels are not safe for
// concurrent publishing. On a closed channel the next publish redials.
type AMQPPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the topology. The
// returned publisher re-establishes its connection lazily after errors.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Publish marshals the envelope and sends it as a persistent JSON
// message. A failed publish retries once on a fresh connection before
// giving up; callers treat the error per their own policy (REST-facing
// writers log and continue, the scheduler aborts its claim).
func (p *AMQPPublisher) Publish(ctx context.Context, exchange, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		logger.L().Warnw("publish failed, redialing", "exchange", exchange, "key", key, "err", err)
		if rerr := p.connect(); rerr != nil {
			return rerr
		}
		return p.ch.PublishWithContext(ctx, exchange, key, false, false, pub)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
