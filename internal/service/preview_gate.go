package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	// PreviewThreshold is the largest count that may run without a preview.
	PreviewThreshold = 1000
	// PreviewSize is the number of codes generated by a preview run.
	PreviewSize = 10

	DefaultPreviewTTL = 15 * time.Minute

	decisionConfirmed = "confirmed"
	decisionDeclined  = "declined"
	decisionExpired   = "expired"
)

// ShouldPreview reports whether a request of count codes needs a confirmed
// preview before it may run.
func ShouldPreview(count int) bool {
	return count > PreviewThreshold
}

type PreviewInput struct {
	Request   domain.GenerationRequest
	ClientKey string
}

type PreviewResult struct {
	PreviewID      string
	Codes          []string
	RequestedCount int
	Composition    domain.Composition
	Format         string
	ExpiresAt      time.Time
}

type parkedRequest struct {
	request     domain.GenerationRequest
	composition domain.Composition
	expiresAt   time.Time
}

// PreviewGate runs sample generations for large requests and holds the
// original request until it is confirmed or declined.
type PreviewGate struct {
	generations *GenerationService
	metrics     *observability.Metrics
	logger      *zap.Logger
	ttl         time.Duration
	now         func() time.Time

	mu     sync.Mutex
	parked map[string]parkedRequest
}

func NewPreviewGate(generations *GenerationService, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) (*PreviewGate, error) {
	if generations == nil {
		return nil, fmt.Errorf("generation service is required")
	}
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PreviewGate{
		generations: generations,
		metrics:     metrics,
		logger:      logger,
		ttl:         ttl,
		now:         generations.now,
		parked:      make(map[string]parkedRequest),
	}, nil
}

// Preview runs a PreviewSize task for the request and waits for its codes.
// The request is parked under the preview id for Confirm.
func (g *PreviewGate) Preview(ctx context.Context, in PreviewInput) (*PreviewResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.generations.admit(ctx, in.ClientKey); err != nil {
		return nil, err
	}
	comp, err := domain.Resolve(in.Request)
	if err != nil {
		g.metrics.IncSubmissionRejected(rejectValidation)
		return nil, err
	}

	t, err := g.generations.create(ctx, createParams{
		id:          uuid.NewString(),
		kind:        domain.TaskKindPreview,
		composition: comp,
		total:       min(PreviewSize, in.Request.Count),
	})
	if err != nil {
		return nil, err
	}

	events, unsubscribe := t.Subscribe()
	defer unsubscribe()

	if err := t.Start(g.generations.baseCtx); err != nil {
		return nil, err
	}

	codes, err := awaitCodes(ctx, events)
	if err != nil {
		t.Cancel()
		return nil, err
	}

	expiresAt := g.now().Add(g.ttl)
	g.mu.Lock()
	g.parked[t.ID()] = parkedRequest{request: in.Request, composition: comp, expiresAt: expiresAt}
	g.mu.Unlock()

	observability.WithTask(g.logger, ctx, t.ID()).Info("preview ready",
		zap.Int("requestedCount", in.Request.Count),
		zap.Time("expiresAt", expiresAt),
	)

	return &PreviewResult{
		PreviewID:      t.ID(),
		Codes:          codes,
		RequestedCount: in.Request.Count,
		Composition:    comp,
		Format:         comp.Describe(),
		ExpiresAt:      expiresAt,
	}, nil
}

// Confirm consumes a parked request and creates its full task. The task is
// pending and unrelated to the preview task except for PreviewOf.
func (g *PreviewGate) Confirm(ctx context.Context, previewID string) (*Submission, error) {
	parked, err := g.take(previewID)
	if err != nil {
		return nil, err
	}

	t, err := g.generations.create(ctx, createParams{
		id:          uuid.NewString(),
		kind:        domain.TaskKindFull,
		previewOf:   &previewID,
		composition: parked.composition,
		total:       parked.request.Count,
	})
	if err != nil {
		return nil, err
	}

	g.metrics.IncPreviewDecision(decisionConfirmed)
	observability.WithTask(g.logger, ctx, t.ID()).Info("preview confirmed", zap.String("previewOf", previewID))
	return newSubmission(t), nil
}

// Decline discards a parked request.
func (g *PreviewGate) Decline(ctx context.Context, previewID string) error {
	if _, err := g.take(previewID); err != nil {
		return err
	}
	g.metrics.IncPreviewDecision(decisionDeclined)
	observability.WithTask(g.logger, ctx, previewID).Info("preview declined")
	return nil
}

// SweepExpired drops parked requests whose confirmation window has passed.
func (g *PreviewGate) SweepExpired(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	expired := 0
	for id, parked := range g.parked {
		if now.Before(parked.expiresAt) {
			continue
		}
		delete(g.parked, id)
		expired++
		g.metrics.IncPreviewDecision(decisionExpired)
	}
	return expired
}

// Pending is the number of parked requests.
func (g *PreviewGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.parked)
}

func (g *PreviewGate) take(previewID string) (parkedRequest, error) {
	id := strings.TrimSpace(previewID)

	g.mu.Lock()
	defer g.mu.Unlock()

	parked, ok := g.parked[id]
	if !ok {
		return parkedRequest{}, fmt.Errorf("%w: preview %s", domain.ErrNotFound, id)
	}
	delete(g.parked, id)

	if !g.now().Before(parked.expiresAt) {
		g.metrics.IncPreviewDecision(decisionExpired)
		return parkedRequest{}, fmt.Errorf("%w: preview %s has expired", domain.ErrNotFound, id)
	}
	return parked, nil
}

func awaitCodes(ctx context.Context, events <-chan domain.Event) ([]string, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("%w: preview was cancelled", domain.ErrConflict)
			}
			switch e.Type {
			case domain.EventCompleted:
				return e.Codes, nil
			case domain.EventFailed:
				return nil, fmt.Errorf("%w: %s", domain.ErrTaskExecution, e.Message)
			}
		}
	}
}
