package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultMaxAttempts    = 3
	retryBackoffStep      = 500 * time.Millisecond
)

type completionRequest struct {
	TaskID      string  `json:"taskId"`
	Kind        string  `json:"kind"`
	PreviewOf   *string `json:"previewOf,omitempty"`
	Status      string  `json:"status"`
	TotalCodes  int     `json:"totalCodes"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	Message     string  `json:"message,omitempty"`
	FinishedAt  string  `json:"finishedAt"`
}

// Notifier posts run summaries to a completion webhook. Transient failures
// are retried a bounded number of times.
type Notifier struct {
	client      *resty.Client
	endpoint    string
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewNotifier(endpoint string) (*Notifier, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)

	return NewNotifierWithClient(endpoint, client, defaultMaxAttempts)
}

func NewNotifierWithClient(endpoint string, client *resty.Client, maxAttempts int) (*Notifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// retries are driven by Notify so they honour IsTransient
	client.SetRetryCount(0)

	return &Notifier{
		client:      client,
		endpoint:    trimmedEndpoint,
		maxAttempts: maxAttempts,
		sleep:       sleepWithContext,
	}, nil
}

// Notify delivers summary. The generated codes are never sent.
func (n *Notifier) Notify(ctx context.Context, summary domain.GenerationSummary) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("notifier is not initialized")
	}
	if strings.TrimSpace(summary.TaskID) == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body := completionRequest{
		TaskID:      summary.TaskID,
		Kind:        summary.Kind.String(),
		PreviewOf:   summary.PreviewOf,
		Status:      summary.Status.String(),
		TotalCodes:  summary.TotalCodes,
		TotalTimeMs: summary.TotalTime.Milliseconds(),
		Message:     summary.Message,
		FinishedAt:  summary.FinishedAt.UTC().Format(time.RFC3339Nano),
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.send(ctx, attempt, body)
		if lastErr == nil || !IsTransient(lastErr) || attempt == n.maxAttempts {
			break
		}
		if err := n.sleep(ctx, time.Duration(attempt)*retryBackoffStep); err != nil {
			return err
		}
	}
	return lastErr
}

func (n *Notifier) send(ctx context.Context, attempt int, body completionRequest) error {
	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", body.TaskID).
		SetBody(body).
		Post(n.endpoint)
	if err != nil {
		return requestError(body.TaskID, attempt, err)
	}
	if response == nil {
		return requestError(body.TaskID, attempt, errors.New("empty response"))
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}
	return statusError(body.TaskID, attempt, statusCode, response.String())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
