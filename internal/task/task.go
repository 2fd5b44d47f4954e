package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/generator"
)

const (
	DefaultBatchSize  = 1000
	DefaultBatchPause = 10 * time.Millisecond
)

var (
	ErrNotPending = fmt.Errorf("%w: task is not pending", domain.ErrConflict)
	ErrCancelled  = errors.New("task cancelled")
)

// Sampler produces one code per call.
type Sampler interface {
	Sample(c domain.Composition) (string, error)
}

type Option func(*Task)

func WithBatchSize(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithBatchPause sets the idle time between two batches. Zero disables it.
func WithBatchPause(d time.Duration) Option {
	return func(t *Task) {
		if d >= 0 {
			t.batchPause = d
		}
	}
}

func WithSampler(s Sampler) Option {
	return func(t *Task) {
		if s != nil {
			t.sampler = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Task) {
		if now != nil {
			t.now = now
		}
	}
}

func WithKind(kind domain.TaskKind) Option {
	return func(t *Task) {
		if kind.IsValid() {
			t.kind = kind
		}
	}
}

func WithPreviewOf(previewID string) Option {
	return func(t *Task) {
		if previewID != "" {
			t.previewOf = &previewID
		}
	}
}

// Snapshot is a consistent copy of a task's observable state.
type Snapshot struct {
	ID           string
	Kind         domain.TaskKind
	PreviewOf    *string
	Composition  domain.Composition
	Status       domain.TaskStatus
	Total        int
	Completed    int
	Progress     int
	BatchSize    int
	TotalBatches int
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Failure      string
}

// Task generates Total codes in sequential batches and reports progress to
// its observers. It moves pending -> running -> completed|failed|cancelled.
type Task struct {
	id          string
	kind        domain.TaskKind
	previewOf   *string
	composition domain.Composition
	total       int
	batchSize   int
	batchPause  time.Duration
	sampler     Sampler
	now         func() time.Time
	createdAt   time.Time

	mu              sync.Mutex
	status          domain.TaskStatus
	completed       int
	results         []string
	startedAt       time.Time
	finishedAt      time.Time
	failure         string
	cancelRequested bool
	observers       map[int]*subscription
	nextObserver    int
	terminal        *domain.Event

	cancelCh chan struct{}
	done     chan struct{}
}

// New returns a pending task. The composition must come from domain.Resolve.
func New(id string, comp domain.Composition, total int, opts ...Option) (*Task, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if total < 1 {
		return nil, fmt.Errorf("%w: total count must be positive (got %d)", domain.ErrValidation, total)
	}

	t := &Task{
		id:          id,
		kind:        domain.TaskKindFull,
		composition: comp,
		total:       total,
		batchSize:   DefaultBatchSize,
		batchPause:  DefaultBatchPause,
		now:         time.Now,
		status:      domain.TaskStatusPending,
		observers:   make(map[int]*subscription),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.sampler == nil {
		sampler, err := generator.NewSampler()
		if err != nil {
			return nil, err
		}
		t.sampler = sampler
	}
	t.createdAt = t.now()

	return t, nil
}

func (t *Task) ID() string                      { return t.id }
func (t *Task) Kind() domain.TaskKind           { return t.kind }
func (t *Task) PreviewOf() *string              { return t.previewOf }
func (t *Task) Composition() domain.Composition { return t.composition }
func (t *Task) Total() int                      { return t.total }
func (t *Task) CreatedAt() time.Time            { return t.createdAt }

// TotalBatches is ceil(total / batchSize).
func (t *Task) TotalBatches() int {
	return (t.total + t.batchSize - 1) / t.batchSize
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		ID:           t.id,
		Kind:         t.kind,
		PreviewOf:    t.previewOf,
		Composition:  t.composition,
		Status:       t.status,
		Total:        t.total,
		Completed:    t.completed,
		Progress:     progressPercent(t.completed, t.total),
		BatchSize:    t.batchSize,
		TotalBatches: t.TotalBatches(),
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		FinishedAt:   t.finishedAt,
		Failure:      t.failure,
	}
}

// Results returns the generated codes once the task has completed. The
// returned slice is shared and must not be modified.
func (t *Task) Results() ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != domain.TaskStatusCompleted {
		return nil, false
	}
	return t.results, true
}

// Subscribe registers an observer. Events arrive in emission order and the
// channel is closed after the terminal event or on cancellation. Observers
// joining after completion or failure receive the terminal event only.
func (t *Task) Subscribe() (<-chan domain.Event, func()) {
	sub := newSubscription()

	t.mu.Lock()
	id := -1
	switch {
	case t.terminal != nil:
		sub.push(*t.terminal)
		sub.close()
	case t.status.IsTerminal():
		sub.close()
	default:
		id = t.nextObserver
		t.nextObserver++
		t.observers[id] = sub
	}
	t.mu.Unlock()

	unsubscribe := func() {
		if id >= 0 {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		}
		sub.cancel()
	}
	return sub.out, unsubscribe
}

// Cancel stops a pending or running task. A running task stops before its
// next batch. It reports false when the task is already terminal.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case domain.TaskStatusPending:
		t.cancelRequested = true
		close(t.cancelCh)
		t.status = domain.TaskStatusCancelled
		t.finishedAt = t.now()
		t.closeObserversLocked()
		close(t.done)
		return true
	case domain.TaskStatusRunning:
		if !t.cancelRequested {
			t.cancelRequested = true
			close(t.cancelCh)
		}
		return true
	}
	return false
}

// Run executes the task on the calling goroutine. It returns nil on
// completion, ErrCancelled on cancellation and an error wrapping
// domain.ErrTaskExecution on failure.
func (t *Task) Run(ctx context.Context) error {
	if err := t.begin(); err != nil {
		return err
	}
	return t.execute(ctx)
}

// Start moves the task to running and generates on a new goroutine.
// Exactly one of concurrent callers succeeds, the others get ErrNotPending.
func (t *Task) Start(ctx context.Context) error {
	if err := t.begin(); err != nil {
		return err
	}
	go func() { _ = t.execute(ctx) }()
	return nil
}

func (t *Task) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != domain.TaskStatusPending {
		return ErrNotPending
	}
	t.status = domain.TaskStatusRunning
	t.startedAt = t.now()
	t.results = make([]string, 0, t.total)
	t.broadcastLocked(domain.Event{Type: domain.EventStarted, TaskID: t.id})
	return nil
}

func (t *Task) execute(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			err = t.fail(fmt.Errorf("generation panicked: %v", r))
		}
	}()

	totalBatches := t.TotalBatches()
	completed := 0
	for batchNum := 1; batchNum <= totalBatches; batchNum++ {
		if t.stopRequested(ctx) {
			return t.finishCancelled()
		}

		size := min(t.batchSize, t.total-completed)
		batch, err := t.drawBatch(size)
		if err != nil {
			return t.fail(err)
		}
		completed += size

		t.mu.Lock()
		t.results = append(t.results, batch...)
		t.completed = completed
		elapsed := t.now().Sub(t.startedAt)
		t.broadcastLocked(domain.Event{
			Type:               domain.EventProgress,
			TaskID:             t.id,
			Progress:           progressPercent(completed, t.total),
			Completed:          completed,
			Total:              t.total,
			EstimatedRemaining: estimateRemaining(elapsed, completed, t.total),
			BatchNum:           batchNum,
			TotalBatches:       totalBatches,
		})
		t.mu.Unlock()

		if batchNum < totalBatches && !t.pause(ctx) {
			return t.finishCancelled()
		}
	}

	return t.complete()
}

func (t *Task) drawBatch(size int) ([]string, error) {
	batch := make([]string, size)
	for i := range batch {
		code, err := t.sampler.Sample(t.composition)
		if err != nil {
			return nil, err
		}
		batch[i] = code
	}
	return batch, nil
}

func (t *Task) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// pause waits between batches and reports false when the task should stop.
func (t *Task) pause(ctx context.Context) bool {
	if t.batchPause <= 0 {
		return true
	}

	timer := time.NewTimer(t.batchPause)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-t.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *Task) complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelRequested {
		t.cancelLocked()
		return ErrCancelled
	}

	t.status = domain.TaskStatusCompleted
	t.finishedAt = t.now()
	event := domain.Event{
		Type:      domain.EventCompleted,
		TaskID:    t.id,
		Codes:     t.results,
		Completed: t.completed,
		Total:     t.total,
		TotalTime: t.finishedAt.Sub(t.startedAt).Seconds(),
	}
	t.terminal = &event
	t.broadcastLocked(event)
	t.closeObserversLocked()
	close(t.done)
	return nil
}

func (t *Task) fail(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// recover may run after another terminal transition
	if t.status.IsTerminal() {
		return fmt.Errorf("%w: %v", domain.ErrTaskExecution, cause)
	}

	t.status = domain.TaskStatusFailed
	t.finishedAt = t.now()
	t.failure = cause.Error()
	t.results = nil
	event := domain.Event{
		Type:    domain.EventFailed,
		TaskID:  t.id,
		Message: fmt.Sprintf("code generation failed: %s", t.failure),
	}
	t.terminal = &event
	t.broadcastLocked(event)
	t.closeObserversLocked()
	close(t.done)

	return fmt.Errorf("%w: %v", domain.ErrTaskExecution, cause)
}

func (t *Task) finishCancelled() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	return ErrCancelled
}

func (t *Task) cancelLocked() {
	if !t.cancelRequested {
		t.cancelRequested = true
		close(t.cancelCh)
	}
	t.status = domain.TaskStatusCancelled
	t.finishedAt = t.now()
	t.results = nil
	t.closeObserversLocked()
	close(t.done)
}

func (t *Task) broadcastLocked(e domain.Event) {
	for _, sub := range t.observers {
		sub.push(e)
	}
}

func (t *Task) closeObserversLocked() {
	for id, sub := range t.observers {
		sub.close()
		delete(t.observers, id)
	}
}

func progressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * completed / total
}

func estimateRemaining(elapsed time.Duration, completed, total int) *float64 {
	if completed <= 0 {
		return nil
	}
	seconds := elapsed.Seconds() * float64(total-completed) / float64(completed)
	return &seconds
}
