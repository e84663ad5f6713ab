package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Delivery outcomes reported to metrics.
const (
	deliveryAcked    = "ack"
	deliveryRequeued = "requeue"
	deliveryRejected = "reject"
)

// RabbitMQConsumer hands submit messages to a handler. A malformed message is
// rejected into the DLQ; a handler error requeues it.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Consume blocks until ctx is cancelled, re-subscribing with backoff whenever
// the channel or connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer subscription lost, retrying",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.settle(d, c.dispatch(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one delivery and runs the handler, returning how the
// delivery must be settled.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) string {
	msg, err := decodeMessage(d.Body)
	if err != nil {
		c.logger.Warn("rejecting undecodable message",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return deliveryRejected
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("requeueing message: handler failed",
			zap.String("requestId", msg.RequestID),
			zap.String("credentialId", msg.CredentialID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
		return deliveryRequeued
	}
	return deliveryAcked
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, result string) error {
	var err error
	switch result {
	case deliveryAcked:
		err = d.Ack(false)
	case deliveryRequeued:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", result, err)
	}

	c.metrics.IncQueueDelivery(result)
	return nil
}

// decodeMessage parses and validates a submit payload.
func decodeMessage(body []byte) (IndexingMessage, error) {
	var msg IndexingMessage
	if err := sonic.Unmarshal(body, &msg); err != nil {
		return IndexingMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return IndexingMessage{}, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
