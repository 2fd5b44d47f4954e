package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/task"
	"go.uber.org/zap"
)

const (
	DefaultRetention = 10 * time.Minute
	DefaultCapacity  = 1024
)

// Stats is a point-in-time view of the registry size.
type Stats struct {
	Active   int
	Retained int
}

// Registry maps task ids to live tasks. Tasks stay in the active set until
// they reach a terminal state and are then retained for a bounded time.
type Registry struct {
	mu      sync.RWMutex
	active  map[string]*task.Task
	retired *expirable.LRU[string, *task.Task]
	logger  *zap.Logger
}

func New(retention time.Duration, capacity int, logger *zap.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		active:  make(map[string]*task.Task),
		retired: expirable.NewLRU[string, *task.Task](capacity, nil, retention),
		logger:  logger,
	}
}

// Add inserts t. The id must not be known to the registry.
func (r *Registry) Add(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("%w: task is required", domain.ErrValidation)
	}

	id := t.ID()
	r.mu.Lock()
	if _, ok := r.active[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s already exists", domain.ErrConflict, id)
	}
	if r.retired.Contains(id) {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s already exists", domain.ErrConflict, id)
	}
	r.active[id] = t
	r.mu.Unlock()

	go r.retireWhenDone(t)
	return nil
}

// Remove forgets t so that its id can be used again. A different task
// registered under the same id is left alone.
func (r *Registry) Remove(t *task.Task) {
	if t == nil {
		return
	}

	id := t.ID()
	r.mu.Lock()
	if r.active[id] == t {
		delete(r.active, id)
	}
	if retired, ok := r.retired.Peek(id); ok && retired == t {
		r.retired.Remove(id)
	}
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*task.Task, error) {
	id = strings.TrimSpace(id)

	r.mu.RLock()
	t, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	if t, ok := r.retired.Get(id); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
}

// SweepPending cancels tasks that are still pending and were created before
// cutoff. It returns the ids of the cancelled tasks.
func (r *Registry) SweepPending(cutoff time.Time) []string {
	r.mu.RLock()
	stale := make([]*task.Task, 0)
	for _, t := range r.active {
		if t.Status() == domain.TaskStatusPending && t.CreatedAt().Before(cutoff) {
			stale = append(stale, t)
		}
	}
	r.mu.RUnlock()

	swept := make([]string, 0, len(stale))
	for _, t := range stale {
		// the task may have been started since the scan
		if t.Status() != domain.TaskStatusPending {
			continue
		}
		if t.Cancel() {
			swept = append(swept, t.ID())
		}
	}
	return swept
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	active := len(r.active)
	r.mu.RUnlock()

	return Stats{Active: active, Retained: r.retired.Len()}
}

func (r *Registry) retireWhenDone(t *task.Task) {
	<-t.Done()

	r.mu.Lock()
	if r.active[t.ID()] != t {
		// removed, or replaced by a task reusing the id
		r.mu.Unlock()
		return
	}
	delete(r.active, t.ID())
	r.retired.Add(t.ID(), t)
	r.mu.Unlock()

	r.logger.Debug("task retired",
		zap.String("taskId", t.ID()),
		zap.String("status", t.Status().String()),
	)
}
