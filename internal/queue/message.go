package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

// GenerationEventMessage is the broker payload describing how a run ended.
type GenerationEventMessage struct {
	EventID     string            `json:"eventId"`
	TaskID      string            `json:"taskId"`
	Kind        domain.TaskKind   `json:"kind"`
	PreviewOf   *string           `json:"previewOf,omitempty"`
	Status      domain.TaskStatus `json:"status"`
	TotalCodes  int               `json:"totalCodes"`
	TotalTimeMs int64             `json:"totalTimeMs"`
	Message     string            `json:"message,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

func NewGenerationEventMessage(summary domain.GenerationSummary) GenerationEventMessage {
	occurredAt := summary.FinishedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return GenerationEventMessage{
		EventID:     uuid.NewString(),
		TaskID:      summary.TaskID,
		Kind:        summary.Kind,
		PreviewOf:   summary.PreviewOf,
		Status:      summary.Status,
		TotalCodes:  summary.TotalCodes,
		TotalTimeMs: summary.TotalTime.Milliseconds(),
		Message:     summary.Message,
		OccurredAt:  occurredAt.UTC(),
	}
}

func (m GenerationEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("taskId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	if !m.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", m.Status)
	}
	return nil
}
