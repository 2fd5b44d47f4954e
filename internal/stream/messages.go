package stream

import (
	"encoding/json"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

const (
	CommandStart  = "start"
	CommandCancel = "cancel"
)

type startedMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

type progressMessage struct {
	Type               string   `json:"type"`
	TaskID             string   `json:"taskId"`
	Progress           int      `json:"progress"`
	Completed          int      `json:"completed"`
	Total              int      `json:"total"`
	EstimatedRemaining *float64 `json:"estimatedRemaining"`
	BatchNum           int      `json:"batchNum"`
	TotalBatches       int      `json:"totalBatches"`
}

type completedMessage struct {
	Type       string   `json:"type"`
	TaskID     string   `json:"taskId"`
	Codes      []string `json:"codes"`
	TotalCodes int      `json:"totalCodes"`
	TotalTime  float64  `json:"totalTime"`
}

type errorMessage struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

// ackMessage answers an accepted client command.
type ackMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
}

// rejectedMessage answers a client command that could not be applied. The
// task stream itself is unaffected.
type rejectedMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	TaskID  string `json:"taskId"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

type command struct {
	Type string `json:"type"`
}

func encodeEvent(e domain.Event) ([]byte, error) {
	var msg any
	switch e.Type {
	case domain.EventStarted:
		msg = startedMessage{Type: string(e.Type), TaskID: e.TaskID}
	case domain.EventProgress:
		msg = progressMessage{
			Type:               string(e.Type),
			TaskID:             e.TaskID,
			Progress:           e.Progress,
			Completed:          e.Completed,
			Total:              e.Total,
			EstimatedRemaining: e.EstimatedRemaining,
			BatchNum:           e.BatchNum,
			TotalBatches:       e.TotalBatches,
		}
	case domain.EventCompleted:
		codes := e.Codes
		if codes == nil {
			codes = []string{}
		}
		msg = completedMessage{
			Type:       string(e.Type),
			TaskID:     e.TaskID,
			Codes:      codes,
			TotalCodes: len(codes),
			TotalTime:  e.TotalTime,
		}
	default:
		msg = errorMessage{Type: string(domain.EventFailed), TaskID: e.TaskID, Message: e.Message}
	}
	return json.Marshal(msg)
}
