package queue

import (
	"testing"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := QueueNames()
	if len(work) != 1 || work[0] != "generation.events" {
		t.Fatalf("QueueNames = %v, want [generation.events]", work)
	}

	dlq := DLQNames()
	if len(dlq) != 1 || dlq[0] != "dlq.generation.events" {
		t.Fatalf("DLQNames = %v, want [dlq.generation.events]", dlq)
	}

	// callers must not be able to alter the declared topology
	work[0] = "mutated"
	if QueueNames()[0] != GenerationEventsQueue {
		t.Fatal("QueueNames exposes the internal slice")
	}
}

func TestNewGenerationEventMessage(t *testing.T) {
	previewID := "preview-1"
	finishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))

	msg := NewGenerationEventMessage(domain.GenerationSummary{
		TaskID:     "task-1",
		Kind:       domain.TaskKindFull,
		PreviewOf:  &previewID,
		Status:     domain.TaskStatusCompleted,
		TotalCodes: 50000,
		TotalTime:  1500 * time.Millisecond,
		FinishedAt: finishedAt,
	})

	if msg.EventID == "" {
		t.Fatal("EventID should be generated")
	}
	if msg.TaskID != "task-1" || msg.TotalCodes != 50000 || msg.TotalTimeMs != 1500 {
		t.Fatalf("message = %+v", msg)
	}
	if msg.PreviewOf == nil || *msg.PreviewOf != previewID {
		t.Fatalf("PreviewOf = %v, want %s", msg.PreviewOf, previewID)
	}
	if !msg.OccurredAt.Equal(finishedAt) || msg.OccurredAt.Location() != time.UTC {
		t.Fatalf("OccurredAt = %v, want %v in UTC", msg.OccurredAt, finishedAt)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestGenerationEventMessageValidate(t *testing.T) {
	valid := GenerationEventMessage{
		EventID: "e1",
		TaskID:  "t1",
		Kind:    domain.TaskKindFull,
		Status:  domain.TaskStatusFailed,
	}

	tests := []struct {
		name    string
		mutate  func(m *GenerationEventMessage)
		wantErr bool
	}{
		{name: "valid", mutate: func(m *GenerationEventMessage) {}},
		{name: "missing event id", mutate: func(m *GenerationEventMessage) { m.EventID = "" }, wantErr: true},
		{name: "missing task id", mutate: func(m *GenerationEventMessage) { m.TaskID = " " }, wantErr: true},
		{name: "invalid kind", mutate: func(m *GenerationEventMessage) { m.Kind = "batch" }, wantErr: true},
		{name: "running status", mutate: func(m *GenerationEventMessage) { m.Status = domain.TaskStatusRunning }, wantErr: true},
		{name: "cancelled status", mutate: func(m *GenerationEventMessage) { m.Status = domain.TaskStatusCancelled }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			tt.mutate(&msg)
			err := msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
