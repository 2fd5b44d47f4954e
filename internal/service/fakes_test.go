package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/generator"
	"github.com/kursadbilgin/codegen-engine/internal/queue"
	"github.com/kursadbilgin/codegen-engine/internal/ratelimit"
	"github.com/kursadbilgin/codegen-engine/internal/registry"
	"github.com/kursadbilgin/codegen-engine/internal/repository"
	"github.com/kursadbilgin/codegen-engine/internal/task"
)

// memGenerationRepo keeps generations in memory and records status writes.
type memGenerationRepo struct {
	mu          sync.Mutex
	rows        map[string]domain.Generation
	progress    map[string][]int
	finished    map[string]repository.FinishParams
	createErr   error
	getByIDFn   func(ctx context.Context, id string) (*domain.Generation, error)
	finishedSig chan string
}

func newMemGenerationRepo() *memGenerationRepo {
	return &memGenerationRepo{
		rows:        make(map[string]domain.Generation),
		progress:    make(map[string][]int),
		finished:    make(map[string]repository.FinishParams),
		finishedSig: make(chan string, 64),
	}
}

func (r *memGenerationRepo) Create(ctx context.Context, g *domain.Generation) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[g.ID]; ok {
		return domain.ErrConflict
	}
	r.rows[g.ID] = *g
	return nil
}

func (r *memGenerationRepo) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	if r.getByIDFn != nil {
		return r.getByIDFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &g, nil
}

func (r *memGenerationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Generation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Generation, 0, len(r.rows))
	for _, g := range r.rows {
		if params.Kind != nil && g.Kind != *params.Kind {
			continue
		}
		out = append(out, g)
	}
	return out, int64(len(out)), nil
}

func (r *memGenerationRepo) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.rows[id]
	g.Status = domain.TaskStatusRunning
	g.StartedAt = &startedAt
	r.rows[id] = g
	return nil
}

func (r *memGenerationRepo) UpdateProgress(ctx context.Context, id string, completedCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.rows[id]
	g.CompletedCount = completedCount
	r.rows[id] = g
	r.progress[id] = append(r.progress[id], completedCount)
	return nil
}

func (r *memGenerationRepo) MarkFinished(ctx context.Context, id string, params repository.FinishParams) error {
	r.mu.Lock()
	g := r.rows[id]
	g.Status = params.Status
	g.CompletedCount = params.CompletedCount
	g.TotalTime = params.TotalTime
	g.Error = params.Error
	finishedAt := params.FinishedAt
	g.FinishedAt = &finishedAt
	r.rows[id] = g
	r.finished[id] = params
	r.mu.Unlock()

	select {
	case r.finishedSig <- id:
	default:
	}
	return nil
}

func (r *memGenerationRepo) finishedFor(id string) (repository.FinishParams, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.finished[id]
	return p, ok
}

func (r *memGenerationRepo) progressFor(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress[id]...)
}

// waitFinished blocks until the run history records an outcome for id.
func (r *memGenerationRepo) waitFinished(t *testing.T, id string) repository.FinishParams {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		if p, ok := r.finishedFor(id); ok {
			return p
		}
		select {
		case <-r.finishedSig:
		case <-deadline:
			t.Fatalf("generation %s was never finished", id)
		}
	}
}

type fakeResultStore struct {
	mu    sync.Mutex
	saved map[string][]string
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{saved: make(map[string][]string)}
}

func (f *fakeResultStore) Save(ctx context.Context, id string, codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = append([]string(nil), codes...)
	return nil
}

func (f *fakeResultStore) Load(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes, ok := f.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return codes, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.GenerationEventMessage
	publishFn func(ctx context.Context, queueName string, msg queue.GenerationEventMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.GenerationEventMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeNotifier struct {
	notifyFn func(ctx context.Context, summary domain.GenerationSummary) error
}

func (f *fakeNotifier) Notify(ctx context.Context, summary domain.GenerationSummary) error {
	if f.notifyFn != nil {
		return f.notifyFn(ctx, summary)
	}
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	summaries []domain.GenerationSummary
	err       error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, summary domain.GenerationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return s.err
}

func (s *recordingSink) all() []domain.GenerationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GenerationSummary(nil), s.summaries...)
}

type testHarness struct {
	svc      *GenerationService
	registry *registry.Registry
	repo     *memGenerationRepo
	results  *fakeResultStore
	sink     *recordingSink
}

func newTestHarness(t *testing.T, mutate func(deps *GenerationServiceDeps)) *testHarness {
	t.Helper()

	h := &testHarness{
		registry: registry.New(time.Minute, 64, nil),
		repo:     newMemGenerationRepo(),
		results:  newFakeResultStore(),
		sink:     &recordingSink{},
	}

	var seed uint64
	var seedMu sync.Mutex
	deps := GenerationServiceDeps{
		Registry:    h.registry,
		Generations: h.repo,
		Results:     h.results,
		Sinks:       []Sink{h.sink},
		BatchSize:   1000,
		BatchPause:  0,
		NewSampler: func() (task.Sampler, error) {
			seedMu.Lock()
			defer seedMu.Unlock()
			seed++
			return generator.NewSeededSampler(seed), nil
		},
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := NewGenerationService(deps)
	if err != nil {
		t.Fatalf("NewGenerationService() error = %v", err)
	}
	t.Cleanup(svc.Close)
	h.svc = svc
	return h
}
