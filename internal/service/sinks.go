package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/queue"
)

// Sink receives the summary of every finished run. Deliveries happen after
// the run history is updated and never block the task.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, summary domain.GenerationSummary) error
}

// EventPublisherSink publishes lifecycle messages to the broker.
type EventPublisherSink struct {
	publisher queue.Publisher
	queue     string
}

func NewEventPublisherSink(publisher queue.Publisher) (*EventPublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &EventPublisherSink{publisher: publisher, queue: queue.GenerationEventsQueue}, nil
}

func (s *EventPublisherSink) Name() string { return "rabbitmq" }

func (s *EventPublisherSink) Deliver(ctx context.Context, summary domain.GenerationSummary) error {
	return s.publisher.Publish(ctx, s.queue, queue.NewGenerationEventMessage(summary))
}

// CompletionNotifier is the outbound completion webhook port.
type CompletionNotifier interface {
	Notify(ctx context.Context, summary domain.GenerationSummary) error
}

type WebhookSink struct {
	notifier CompletionNotifier
}

func NewWebhookSink(notifier CompletionNotifier) (*WebhookSink, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	return &WebhookSink{notifier: notifier}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, summary domain.GenerationSummary) error {
	return s.notifier.Notify(ctx, summary)
}
