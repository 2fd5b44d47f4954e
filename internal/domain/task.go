package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a generation task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) String() string { return string(s) }

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func ParseTaskStatusFromString(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// TaskKind separates preview samples from full generation runs.
type TaskKind string

const (
	TaskKindPreview TaskKind = "preview"
	TaskKindFull    TaskKind = "full"
)

func (k TaskKind) String() string { return string(k) }

func (k TaskKind) IsValid() bool {
	switch k {
	case TaskKindPreview, TaskKindFull:
		return true
	}
	return false
}

func ParseTaskKindFromString(s string) (TaskKind, error) {
	k := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// EventType identifies a task notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "error"
)

// IsTerminal reports whether the event closes the task's stream.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is a task notification. Only the fields relevant to Type are set.
type Event struct {
	Type   EventType
	TaskID string

	// progress
	Progress           int
	Completed          int
	Total              int
	EstimatedRemaining *float64 // seconds, nil while unknown
	BatchNum           int
	TotalBatches       int

	// completed
	Codes     []string
	TotalTime float64 // seconds

	// error
	Message string
}

// Generation is the persisted record of one task run.
type Generation struct {
	ID             string
	Kind           TaskKind
	PreviewOf      *string
	Count          int
	Composition    Composition
	Status         TaskStatus
	CompletedCount int
	TotalTime      *time.Duration
	Error          *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
}

// GenerationSummary is the terminal outcome shared with external sinks.
// It never carries the generated codes.
type GenerationSummary struct {
	TaskID     string
	Kind       TaskKind
	PreviewOf  *string
	Status     TaskStatus
	TotalCodes int
	TotalTime  time.Duration
	Message    string
	FinishedAt time.Time
}
