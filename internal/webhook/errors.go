package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const maxErrorBody = 256

// DeliveryError is a failed completion webhook call for one generation.
type DeliveryError struct {
	TaskID     string
	Attempt    int
	StatusCode int
	Body       string
	Transient  bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "completion webhook for generation %s failed", e.TaskID)
	if e.Attempt > 0 {
		fmt.Fprintf(&b, " on attempt %d", e.Attempt)
	}
	switch {
	case e.StatusCode > 0:
		fmt.Fprintf(&b, ": receiver answered %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, " (%s)", e.Body)
		}
	case e.Cause != nil:
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// IsTransient reports whether another delivery attempt may succeed.
func IsTransient(err error) bool {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func requestError(taskID string, attempt int, cause error) *DeliveryError {
	return &DeliveryError{
		TaskID:    taskID,
		Attempt:   attempt,
		Transient: !errors.Is(cause, context.Canceled),
		Cause:     cause,
	}
}

func statusError(taskID string, attempt int, statusCode int, body string) *DeliveryError {
	body = strings.TrimSpace(body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &DeliveryError{
		TaskID:     taskID,
		Attempt:    attempt,
		StatusCode: statusCode,
		Body:       body,
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError,
	}
}
