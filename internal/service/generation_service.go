package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"github.com/kursadbilgin/codegen-engine/internal/ratelimit"
	"github.com/kursadbilgin/codegen-engine/internal/registry"
	"github.com/kursadbilgin/codegen-engine/internal/repository"
	"github.com/kursadbilgin/codegen-engine/internal/task"
	"go.uber.org/zap"
)

const (
	defaultOpTimeout = 5 * time.Second

	// estimatedSecondsPerCode drives the hint returned with a submission.
	estimatedSecondsPerCode = 0.0001

	rejectRateLimited     = "rate_limited"
	rejectValidation      = "validation"
	rejectPreviewRequired = "preview_required"
	rejectConflict        = "conflict"
)

// ResultStore keeps the codes of completed runs after they leave the registry.
type ResultStore interface {
	Save(ctx context.Context, id string, codes []string) error
	Load(ctx context.Context, id string) ([]string, error)
}

type GenerationServiceDeps struct {
	Registry    *registry.Registry
	Generations repository.GenerationRepository
	Results     ResultStore
	Limiter     ratelimit.RateLimiter
	Sinks       []Sink
	Metrics     *observability.Metrics
	Logger      *zap.Logger

	BatchSize  int
	BatchPause time.Duration
	NewSampler func() (task.Sampler, error)
	Now        func() time.Time
	OpTimeout  time.Duration
}

// GenerationService creates generation tasks, keeps the run history in step
// with their events and fans terminal outcomes out to the sinks.
type GenerationService struct {
	registry    *registry.Registry
	generations repository.GenerationRepository
	results     ResultStore
	limiter     ratelimit.RateLimiter
	sinks       []Sink
	metrics     *observability.Metrics
	logger      *zap.Logger

	batchSize  int
	batchPause time.Duration
	newSampler func() (task.Sampler, error)
	now        func() time.Time
	opTimeout  time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

type SubmitInput struct {
	Request   domain.GenerationRequest
	TaskID    string
	ClientKey string
}

// Submission acknowledges a created task. The task is pending until started.
// PreviewRequired is set for counts above PreviewThreshold, which only reach
// a submission through a confirmed preview.
type Submission struct {
	TaskID          string
	Status          domain.TaskStatus
	Kind            domain.TaskKind
	Count           int
	Composition     domain.Composition
	Format          string
	EstimatedTime   float64
	PreviewRequired bool
	PreviewOf       *string
}

type createParams struct {
	id          string
	kind        domain.TaskKind
	previewOf   *string
	composition domain.Composition
	total       int
}

func NewGenerationService(deps GenerationServiceDeps) (*GenerationService, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Generations == nil {
		return nil, fmt.Errorf("generation repository is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = task.DefaultBatchSize
	}
	if deps.BatchPause < 0 {
		deps.BatchPause = task.DefaultBatchPause
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.OpTimeout <= 0 {
		deps.OpTimeout = defaultOpTimeout
	}

	sinks := make([]Sink, 0, len(deps.Sinks))
	for _, sink := range deps.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &GenerationService{
		registry:    deps.Registry,
		generations: deps.Generations,
		results:     deps.Results,
		limiter:     deps.Limiter,
		sinks:       sinks,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		batchSize:   deps.BatchSize,
		batchPause:  deps.BatchPause,
		newSampler:  deps.NewSampler,
		now:         deps.Now,
		opTimeout:   deps.OpTimeout,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
	}, nil
}

// Submit validates and registers a full generation task. Requests above the
// preview threshold are rejected with domain.ErrPreviewRequired.
func (s *GenerationService) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.admit(ctx, in.ClientKey); err != nil {
		return nil, err
	}

	comp, err := domain.Resolve(in.Request)
	if err != nil {
		s.metrics.IncSubmissionRejected(rejectValidation)
		return nil, err
	}
	if ShouldPreview(in.Request.Count) {
		s.metrics.IncSubmissionRejected(rejectPreviewRequired)
		return nil, fmt.Errorf("%w: count %d exceeds %d, confirm a preview first", domain.ErrPreviewRequired, in.Request.Count, PreviewThreshold)
	}

	t, err := s.create(ctx, createParams{
		id:          in.TaskID,
		kind:        domain.TaskKindFull,
		composition: comp,
		total:       in.Request.Count,
	})
	if err != nil {
		return nil, err
	}
	return newSubmission(t), nil
}

// Start runs a pending task. When req is set it must resolve to the
// submitted composition and count.
func (s *GenerationService) Start(ctx context.Context, id string, req *domain.GenerationRequest) (domain.TaskStatus, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}

	if req != nil {
		comp, err := domain.Resolve(*req)
		if err != nil {
			return "", err
		}
		if comp != t.Composition() || req.Count != t.Total() {
			return "", fmt.Errorf("%w: request does not match generation %s", domain.ErrConflict, id)
		}
	}

	if err := t.Start(s.baseCtx); err != nil {
		return "", err
	}
	observability.WithContextLogger(s.logger, ctx).Info("generation started",
		zap.String("taskId", id),
		zap.String("kind", t.Kind().String()),
		zap.Int("count", t.Total()),
	)
	return t.Status(), nil
}

func (s *GenerationService) Cancel(ctx context.Context, id string) error {
	t, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !t.Cancel() {
		return fmt.Errorf("%w: generation %s is already %s", domain.ErrConflict, id, t.Status())
	}
	observability.WithContextLogger(s.logger, ctx).Info("generation cancel requested", zap.String("taskId", id))
	return nil
}

// Get returns the live state of a registered task, falling back to the run
// history once the task has left the registry.
func (s *GenerationService) Get(ctx context.Context, id string) (*domain.Generation, error) {
	if t, err := s.registry.Get(id); err == nil {
		return generationFromSnapshot(t.Snapshot()), nil
	}
	return s.generations.GetByID(ctx, id)
}

// Codes returns the codes of a completed run.
func (s *GenerationService) Codes(ctx context.Context, id string) ([]string, error) {
	if t, err := s.registry.Get(id); err == nil {
		codes, ok := t.Results()
		if !ok {
			return nil, fmt.Errorf("%w: generation %s is %s", domain.ErrConflict, id, t.Status())
		}
		return codes, nil
	}
	if s.results == nil {
		return nil, domain.ErrNotFound
	}
	return s.results.Load(ctx, id)
}

func (s *GenerationService) List(ctx context.Context, params repository.ListParams) ([]domain.Generation, int64, error) {
	return s.generations.List(ctx, params)
}

// Subscribe attaches an observer to a registered task.
func (s *GenerationService) Subscribe(id string) (<-chan domain.Event, func(), error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return nil, nil, err
	}
	events, unsubscribe := t.Subscribe()
	return events, unsubscribe, nil
}

// Close cancels every open task and waits for their outcomes to be recorded.
func (s *GenerationService) Close() {
	s.cancelBase()
	s.wg.Wait()
}

func (s *GenerationService) admit(ctx context.Context, clientKey string) error {
	if s.limiter == nil {
		return nil
	}
	key := strings.TrimSpace(clientKey)
	if key == "" {
		key = "anonymous"
	}

	allowed, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, admitting request", zap.String("clientKey", key), zap.Error(err))
		return nil
	}
	if !allowed {
		s.metrics.IncSubmissionRejected(rejectRateLimited)
		return fmt.Errorf("%w: too many submissions from %s", domain.ErrRateLimited, key)
	}
	return nil
}

// create registers a pending task and attaches the history watcher before
// anyone can start it.
func (s *GenerationService) create(ctx context.Context, p createParams) (*task.Task, error) {
	id := strings.TrimSpace(p.id)
	if id == "" {
		id = uuid.NewString()
	}

	opts := []task.Option{
		task.WithKind(p.kind),
		task.WithBatchSize(s.batchSize),
		task.WithBatchPause(s.batchPause),
		task.WithClock(s.now),
	}
	if p.previewOf != nil {
		opts = append(opts, task.WithPreviewOf(*p.previewOf))
	}
	if s.newSampler != nil {
		sampler, err := s.newSampler()
		if err != nil {
			return nil, fmt.Errorf("failed to create sampler: %w", err)
		}
		opts = append(opts, task.WithSampler(sampler))
	}

	t, err := task.New(id, p.composition, p.total, opts...)
	if err != nil {
		return nil, err
	}

	events, unsubscribe := t.Subscribe()
	if err := s.registry.Add(t); err != nil {
		unsubscribe()
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.IncSubmissionRejected(rejectConflict)
		}
		return nil, err
	}

	if err := s.generations.Create(ctx, generationFromSnapshot(t.Snapshot())); err != nil {
		unsubscribe()
		t.Cancel()
		s.registry.Remove(t)
		return nil, fmt.Errorf("failed to record generation %s: %w", id, err)
	}

	s.metrics.IncTaskCreated(p.kind.String())
	observability.WithContextLogger(s.logger, ctx).Info("generation created",
		zap.String("taskId", id),
		zap.String("kind", p.kind.String()),
		zap.Int("count", p.total),
		zap.String("format", p.composition.Describe()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.watch(t, events)
	}()

	return t, nil
}

// watch mirrors task events into the run history until the task ends.
func (s *GenerationService) watch(t *task.Task, events <-chan domain.Event) {
	logger := s.logger.With(zap.String("taskId", t.ID()), zap.String("kind", t.Kind().String()))
	stop := s.baseCtx.Done()
	running := false

	for {
		select {
		case <-stop:
			t.Cancel()
			stop = nil
		case e, ok := <-events:
			if !ok {
				s.finish(t, logger, running, "")
				return
			}

			switch e.Type {
			case domain.EventStarted:
				running = true
				s.metrics.IncTaskRunning(t.Kind().String())
				s.withTimeout(func(ctx context.Context) error {
					return s.generations.MarkStarted(ctx, t.ID(), t.Snapshot().StartedAt)
				}, logger, "failed to mark generation started")
			case domain.EventProgress:
				s.withTimeout(func(ctx context.Context) error {
					return s.generations.UpdateProgress(ctx, t.ID(), e.Completed)
				}, logger, "failed to record generation progress")
			case domain.EventCompleted:
				if s.results != nil {
					s.withTimeout(func(ctx context.Context) error {
						return s.results.Save(ctx, t.ID(), e.Codes)
					}, logger, "failed to store generation results")
				}
				s.finish(t, logger, running, "")
				return
			case domain.EventFailed:
				s.finish(t, logger, running, e.Message)
				return
			}
		}
	}
}

func (s *GenerationService) finish(t *task.Task, logger *zap.Logger, running bool, message string) {
	snap := t.Snapshot()
	totalTime := elapsed(snap)

	params := repository.FinishParams{
		Status:         snap.Status,
		CompletedCount: snap.Completed,
		FinishedAt:     snap.FinishedAt,
	}
	if !snap.StartedAt.IsZero() {
		params.TotalTime = &totalTime
	}
	if message != "" {
		params.Error = &message
	}

	s.withTimeout(func(ctx context.Context) error {
		return s.generations.MarkFinished(ctx, t.ID(), params)
	}, logger, "failed to record generation outcome")

	s.metrics.ObserveTaskFinished(t.Kind().String(), snap.Status.String(), snap.Completed, totalTime)
	if running {
		s.metrics.DecTaskRunning(t.Kind().String())
	}

	fields := []zap.Field{
		zap.String("status", snap.Status.String()),
		zap.Int("completed", snap.Completed),
		zap.Duration("totalTime", totalTime),
	}
	if snap.Status == domain.TaskStatusFailed {
		logger.Error("generation failed", append(fields, zap.String("error", message))...)
	} else {
		logger.Info("generation finished", fields...)
	}

	summary := domain.GenerationSummary{
		TaskID:     t.ID(),
		Kind:       t.Kind(),
		PreviewOf:  t.PreviewOf(),
		Status:     snap.Status,
		TotalCodes: snap.Completed,
		TotalTime:  totalTime,
		Message:    message,
		FinishedAt: snap.FinishedAt,
	}
	for _, sink := range s.sinks {
		s.withTimeout(func(ctx context.Context) error {
			return sink.Deliver(ctx, summary)
		}, logger.With(zap.String("sink", sink.Name())), "failed to deliver generation summary")
	}
}

// withTimeout runs op detached from request contexts so outcomes are still
// recorded during shutdown.
func (s *GenerationService) withTimeout(op func(ctx context.Context) error, logger *zap.Logger, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := op(ctx); err != nil {
		logger.Error(msg, zap.Error(err))
	}
}

func newSubmission(t *task.Task) *Submission {
	comp := t.Composition()
	return &Submission{
		TaskID:          t.ID(),
		Status:          t.Status(),
		Kind:            t.Kind(),
		Count:           t.Total(),
		Composition:     comp,
		Format:          comp.Describe(),
		EstimatedTime:   EstimatedTime(t.Total()),
		PreviewRequired: ShouldPreview(t.Total()),
		PreviewOf:       t.PreviewOf(),
	}
}

// EstimatedTime is a rough duration hint in seconds, rounded to 2 decimals.
func EstimatedTime(count int) float64 {
	return math.Round(float64(count)*estimatedSecondsPerCode*100) / 100
}

func elapsed(snap task.Snapshot) time.Duration {
	if snap.StartedAt.IsZero() || snap.FinishedAt.IsZero() {
		return 0
	}
	return snap.FinishedAt.Sub(snap.StartedAt)
}

func generationFromSnapshot(snap task.Snapshot) *domain.Generation {
	g := &domain.Generation{
		ID:             snap.ID,
		Kind:           snap.Kind,
		PreviewOf:      snap.PreviewOf,
		Count:          snap.Total,
		Composition:    snap.Composition,
		Status:         snap.Status,
		CompletedCount: snap.Completed,
		CreatedAt:      snap.CreatedAt,
		UpdatedAt:      snap.CreatedAt,
	}
	if !snap.StartedAt.IsZero() {
		startedAt := snap.StartedAt
		g.StartedAt = &startedAt
	}
	if !snap.FinishedAt.IsZero() {
		finishedAt := snap.FinishedAt
		g.FinishedAt = &finishedAt
		g.UpdatedAt = finishedAt
		if g.StartedAt != nil {
			totalTime := finishedAt.Sub(*g.StartedAt)
			g.TotalTime = &totalTime
		}
	}
	if snap.Failure != "" {
		failure := snap.Failure
		g.Error = &failure
	}
	return g
}
