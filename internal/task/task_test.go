package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/generator"
)

var testComposition = domain.Composition{
	CodeLength:  9,
	LetterCount: 3,
	DigitCount:  2,
	LetterCase:  domain.LetterCaseUppercase,
	Prefix:      "PRE-",
}

type fakeSampler struct {
	mu      sync.Mutex
	calls   int
	err     error
	panics  bool
	onCall  func(n int)
	failure int
}

func (f *fakeSampler) Sample(c domain.Composition) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if f.panics && n > f.failure {
		panic("sampler exploded")
	}
	if f.err != nil && n > f.failure {
		return "", f.err
	}
	return c.Prefix + "ABC12" + c.Suffix, nil
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func newTestTask(t *testing.T, total int, opts ...Option) *Task {
	t.Helper()

	base := []Option{
		WithBatchSize(1000),
		WithBatchPause(0),
		WithSampler(generator.NewSeededSampler(3)),
	}
	task, err := New("task-1", testComposition, total, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return task
}

func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()

	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
			return nil
		}
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(" ", testComposition, 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("New() with empty id error = %v, want ErrValidation", err)
	}
	if _, err := New("task-1", testComposition, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("New() with zero total error = %v, want ErrValidation", err)
	}
}

func TestTotalBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total int
		batch int
		want  int
	}{
		{total: 1, batch: 1000, want: 1},
		{total: 1000, batch: 1000, want: 1},
		{total: 1001, batch: 1000, want: 2},
		{total: 2500, batch: 1000, want: 3},
		{total: 50000, batch: 1000, want: 50},
		{total: 7, batch: 2, want: 4},
	}

	for _, tt := range tests {
		tt := tt
		task := newTestTask(t, tt.total, WithBatchSize(tt.batch))
		if got := task.TotalBatches(); got != tt.want {
			t.Fatalf("TotalBatches(total=%d, batch=%d) = %d, want %d", tt.total, tt.batch, got, tt.want)
		}
	}
}

func TestRunCompletesWithOrderedEvents(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 2500)
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collect(t, events)
	if len(got) != 5 {
		t.Fatalf("received %d events, want 5 (started, 3 progress, completed)", len(got))
	}
	if got[0].Type != domain.EventStarted {
		t.Fatalf("first event = %s, want started", got[0].Type)
	}

	wantProgress := []int{40, 80, 100}
	wantCompleted := []int{1000, 2000, 2500}
	for i, e := range got[1:4] {
		if e.Type != domain.EventProgress {
			t.Fatalf("event %d = %s, want progress", i+1, e.Type)
		}
		if e.Progress != wantProgress[i] || e.Completed != wantCompleted[i] {
			t.Fatalf("progress event %d = %d%% (%d), want %d%% (%d)",
				i, e.Progress, e.Completed, wantProgress[i], wantCompleted[i])
		}
		if e.BatchNum != i+1 || e.TotalBatches != 3 || e.Total != 2500 {
			t.Fatalf("progress event %d batch info = %d/%d total %d", i, e.BatchNum, e.TotalBatches, e.Total)
		}
	}

	final := got[4]
	if final.Type != domain.EventCompleted {
		t.Fatalf("last event = %s, want completed", final.Type)
	}
	if len(final.Codes) != 2500 {
		t.Fatalf("completed event carries %d codes, want 2500", len(final.Codes))
	}

	codes, ok := task.Results()
	if !ok || len(codes) != 2500 {
		t.Fatalf("Results() = %d codes, ok=%v", len(codes), ok)
	}
	for _, code := range codes {
		if len(code) != testComposition.CodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
	}

	snap := task.Snapshot()
	if snap.Status != domain.TaskStatusCompleted || snap.Progress != 100 || snap.Completed != 2500 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("Done() not closed after completion")
	}
}

func TestRunSingleBatch(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 10)
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collect(t, events)
	if len(got) != 3 {
		t.Fatalf("received %d events, want 3", len(got))
	}
	if got[1].Progress != 100 || got[1].TotalBatches != 1 {
		t.Fatalf("progress event = %+v", got[1])
	}
	if len(got[2].Codes) != 10 {
		t.Fatalf("completed event carries %d codes, want 10", len(got[2].Codes))
	}
}

func TestEstimatedRemaining(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	task := newTestTask(t, 2000, WithClock(clock.Now))
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collect(t, events)
	first := got[1]
	if first.EstimatedRemaining == nil || *first.EstimatedRemaining != 1.0 {
		t.Fatalf("first estimate = %v, want 1.0", first.EstimatedRemaining)
	}
	last := got[2]
	if last.EstimatedRemaining == nil || *last.EstimatedRemaining != 0 {
		t.Fatalf("last estimate = %v, want 0", last.EstimatedRemaining)
	}
	if got[3].TotalTime <= 0 {
		t.Fatalf("completed total time = %v, want > 0", got[3].TotalTime)
	}
}

func TestRunTwiceIsRejected(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 5)
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	err := task.Run(context.Background())
	if !errors.Is(err, ErrNotPending) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Run() error = %v, want ErrNotPending", err)
	}
}

func TestCancelPendingTask(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 100)
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	if !task.Cancel() {
		t.Fatal("Cancel() on pending task = false")
	}
	if len(collect(t, events)) != 0 {
		t.Fatal("cancelled pending task emitted events")
	}
	if err := task.Run(context.Background()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("Run() after Cancel() error = %v, want ErrNotPending", err)
	}
	if task.Cancel() {
		t.Fatal("second Cancel() = true")
	}
	if status := task.Status(); status != domain.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", status)
	}
}

func TestCancelStopsAtBatchBoundary(t *testing.T) {
	t.Parallel()

	sampler := &fakeSampler{}
	task := newTestTask(t, 5000, WithSampler(sampler))
	sampler.onCall = func(n int) {
		// cancel midway through the second batch
		if n == 1500 {
			task.Cancel()
		}
	}

	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	err := task.Run(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}

	got := collect(t, events)
	for _, e := range got {
		if e.Type == domain.EventCompleted || e.Type == domain.EventFailed {
			t.Fatalf("cancelled task emitted %s", e.Type)
		}
	}
	last := got[len(got)-1]
	if last.Type != domain.EventProgress || last.Completed != 2000 {
		t.Fatalf("last event = %+v, want progress at 2000", last)
	}

	if _, ok := task.Results(); ok {
		t.Fatal("Results() available after cancellation")
	}
	snap := task.Snapshot()
	if snap.Status != domain.TaskStatusCancelled || snap.Completed != 2000 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if sampler.calls != 2000 {
		t.Fatalf("sampler called %d times, want 2000", sampler.calls)
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := newTestTask(t, 10)
	if err := task.Run(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if status := task.Status(); status != domain.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", status)
	}
}

func TestCancelDuringPause(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 3000, WithBatchPause(time.Hour))
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	go func() {
		for e := range events {
			if e.Type == domain.EventProgress {
				task.Cancel()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Run() error = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop during pause")
	}
	if completed := task.Snapshot().Completed; completed != 1000 {
		t.Fatalf("completed = %d, want 1000", completed)
	}
}

func TestSamplerErrorFailsTask(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 3000, WithSampler(&fakeSampler{err: errors.New("entropy exhausted"), failure: 1200}))
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	err := task.Run(context.Background())
	if !errors.Is(err, domain.ErrTaskExecution) {
		t.Fatalf("Run() error = %v, want ErrTaskExecution", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != domain.EventFailed || last.Message == "" {
		t.Fatalf("last event = %+v, want error with message", last)
	}

	snap := task.Snapshot()
	if snap.Status != domain.TaskStatusFailed || snap.Failure != "entropy exhausted" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if _, ok := task.Results(); ok {
		t.Fatal("Results() available after failure")
	}
}

func TestSamplerPanicFailsTask(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 10, WithSampler(&fakeSampler{panics: true}))
	err := task.Run(context.Background())
	if !errors.Is(err, domain.ErrTaskExecution) {
		t.Fatalf("Run() error = %v, want ErrTaskExecution", err)
	}
	if status := task.Status(); status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
}

func TestLateSubscriberReceivesTerminalEvent(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 20)
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	got := collect(t, events)
	if len(got) != 1 || got[0].Type != domain.EventCompleted || len(got[0].Codes) != 20 {
		t.Fatalf("late subscriber received %+v", got)
	}
}

func TestMultipleObserversSeeSameSequence(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 4500)
	first, unsubscribeFirst := task.Subscribe()
	defer unsubscribeFirst()
	second, unsubscribeSecond := task.Subscribe()
	defer unsubscribeSecond()

	var wg sync.WaitGroup
	results := make([][]domain.Event, 2)
	for i, ch := range []<-chan domain.Event{first, second} {
		wg.Add(1)
		go func(i int, ch <-chan domain.Event) {
			defer wg.Done()
			results[i] = collect(t, ch)
		}(i, ch)
	}

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wg.Wait()

	if len(results[0]) != len(results[1]) {
		t.Fatalf("observers saw %d and %d events", len(results[0]), len(results[1]))
	}
	for i := range results[0] {
		a, b := results[0][i], results[1][i]
		if a.Type != b.Type || a.Completed != b.Completed {
			t.Fatalf("event %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 10)
	events, unsubscribe := task.Subscribe()
	unsubscribe()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("received event after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// the task must still run without the departed observer
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestStartAdmitsSingleCaller(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, 3000, WithPreviewOf("preview-9"))
	events, unsubscribe := task.Subscribe()
	defer unsubscribe()

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- task.Start(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		switch {
		case err == nil:
			started++
		case !errors.Is(err, ErrNotPending):
			t.Fatalf("Start() error = %v, want ErrNotPending", err)
		}
	}
	if started != 1 {
		t.Fatalf("%d callers started the task, want 1", started)
	}

	got := collect(t, events)
	if got[len(got)-1].Type != domain.EventCompleted {
		t.Fatalf("last event = %s, want completed", got[len(got)-1].Type)
	}
	if snap := task.Snapshot(); snap.PreviewOf == nil || *snap.PreviewOf != "preview-9" {
		t.Fatalf("Snapshot().PreviewOf = %v, want preview-9", snap.PreviewOf)
	}
}
