package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher publishes persistent messages in confirm mode, so Publish
// returns only after the broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client  *RabbitMQ
	metrics *observability.Metrics
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg IndexingMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid indexing message: %w", err)
	}

	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal indexing message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, newPublishing(msg, payload))
	if err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm on queue %q: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s on queue %q", msg.RequestID, queue)
	}

	p.metrics.IncQueuePublished(msg.Trigger.String())
	return nil
}

func newPublishing(msg IndexingMessage, payload []byte) amqp.Publishing {
	headers := amqp.Table{
		"x-site-id": msg.SiteID,
		"x-trigger": msg.Trigger.String(),
	}
	if msg.RunID != "" {
		headers["x-run-id"] = msg.RunID
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.RequestID,
		CorrelationId: msg.RunID,
		Priority:      PriorityValue(msg.Trigger),
		Body:          payload,
	}
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
