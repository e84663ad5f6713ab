package queue

import (
	"context"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

// Publisher publishes indexing messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg IndexingMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg IndexingMessage) error

// Consumer consumes indexing messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// SubmitQueue carries submissions waiting for a worker.
	SubmitQueue = "indexing.submit"
	// SubmitDLQ receives rejected or expired submissions.
	SubmitDLQ = "dlq.indexing.submit"

	submitRoutingKey = "indexing.submit"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the submit queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps the trigger to a RabbitMQ message priority. Operator
// runs jump ahead of scheduled runs; retries go last.
func PriorityValue(trigger domain.RunTrigger) uint8 {
	switch trigger {
	case domain.TriggerManual:
		return 3
	case domain.TriggerSchedule:
		return 2
	case domain.TriggerRetry:
		return 1
	default:
		return 0
	}
}
