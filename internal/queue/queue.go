package queue

import (
	"context"
	"fmt"
)

// Publisher publishes generation lifecycle messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg GenerationEventMessage) error
	Close() error
}

// GenerationEventsQueue receives one message per finished run.
const GenerationEventsQueue = "generation.events"

var eventQueues = []string{GenerationEventsQueue}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.generation.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// QueueNames returns all declared work queues.
func QueueNames() []string {
	return append([]string(nil), eventQueues...)
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	queues := make([]string, 0, len(eventQueues))
	for _, queue := range eventQueues {
		queues = append(queues, DLQName(queue))
	}
	return queues
}
