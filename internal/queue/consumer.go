package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
)

// Handler processes one decoded envelope. Returning an error nacks the
// delivery with requeue so the broker redelivers it; handlers must
// therefore be idempotent. Returning nil acks.
type Handler func(ctx context.Context, env Envelope) error

// Consumer runs one consume loop per bound queue over a shared
// connection, reconnecting with exponential backoff when the broker
// drops. Handlers are registered per queue name before Start.
type Consumer struct {
	url      string
	handlers map[string]Handler
	prefetch int
}

// NewConsumer creates a consumer for the given broker URL.
func NewConsumer(url string) *Consumer {
	return &Consumer{
		url:      url,
		handlers: make(map[string]Handler),
		prefetch: 50,
	}
}

// Handle registers the handler for a queue. Must be called before Start.
func (c *Consumer) Handle(queueName string, h Handler) {
	c.handlers[queueName] = h
}

// Start connects and consumes until ctx is canceled. Connection loss is
// retried with backoff capped at 30s; the topology is redeclared on
// every successful reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			logger.L().Warnw("broker dial failed", "err", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeAll(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Warnw("consume loop ended, reconnecting", "err", err)
			_ = conn.Close()
			time.Sleep(2 * time.Second)
			continue
		}
		_ = conn.Close()
		return ctx.Err()
	}
}

// consumeAll opens one channel per registered queue and blocks until the
// connection dies or ctx is canceled.
func (c *Consumer) consumeAll(ctx context.Context, conn *amqp.Connection) error {
	setup, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	if err := DeclareTopology(setup); err != nil {
		_ = setup.Close()
		return err
	}
	_ = setup.Close()

	errCh := make(chan error, len(c.handlers))
	for queueName, h := range c.handlers {
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("channel open: %w", err)
		}
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			logger.L().Warnw("set QoS failed", "queue", queueName, "err", err)
		}
		msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			return fmt.Errorf("consume %s: %w", queueName, err)
		}
		go c.loop(ctx, queueName, h, msgs, errCh)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Consumer) loop(ctx context.Context, queueName string, h Handler, msgs <-chan amqp.Delivery, errCh chan<- error) {
	for d := range msgs {
		var env Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			// Malformed payloads can never succeed; drop without requeue
			// so they do not loop forever.
			logger.L().Errorw("malformed envelope", "queue", queueName, "err", err)
			_ = d.Nack(false, false)
			continue
		}
		if err := h(ctx, env); err != nil {
			// Requeue: the handler did not ack, redelivery covers the
			// failure and the handler's idempotency makes the retry safe.
			logger.L().Errorw("handler failed", "queue", queueName, "message_id", env.MessageID, "action", env.Action, "err", err)
			_ = d.Nack(false, true)
			continue
		}
		_ = d.Ack(false)
	}
	errCh <- fmt.Errorf("deliveries channel closed for %s", queueName)
}
