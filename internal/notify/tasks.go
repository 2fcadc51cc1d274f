package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskStatus represents the status of a background task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskComplete  TaskStatus = "complete"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a snapshot of a supervised background task.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	DoneAt    time.Time  `json:"doneAt,omitempty"`
}

// TaskGroup runs fire-and-forget work (follow-up sends) under one cancellable
// context so shutdown can stop and wait for all of it.
type TaskGroup struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	nextID int
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewTaskGroup(logger *zap.Logger) *TaskGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskGroup{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit starts fn in its own goroutine. The context passed to fn is owned by
// the group, not by the caller. Returns "" once the group is shut down.
func (g *TaskGroup) Submit(name string, fn func(ctx context.Context) error) string {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn("task rejected, group is shut down", zap.String("name", name))
		return ""
	}
	g.nextID++
	id := fmt.Sprintf("task-%d", g.nextID)
	task := &Task{
		ID:        id,
		Name:      name,
		Status:    TaskRunning,
		StartedAt: time.Now(),
	}
	g.tasks[id] = task
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		err := g.run(fn)

		g.mu.Lock()
		defer g.mu.Unlock()
		task.DoneAt = time.Now()
		switch {
		case err == nil:
			task.Status = TaskComplete
		case g.ctx.Err() != nil:
			task.Status = TaskCancelled
			task.Error = err.Error()
		default:
			task.Status = TaskFailed
			task.Error = err.Error()
			g.logger.Warn("background task failed", zap.String("id", id), zap.String("name", name), zap.Error(err))
		}
	}()

	return id
}

func (g *TaskGroup) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(g.ctx)
}

// Get returns a copy of the task state.
func (g *TaskGroup) Get(id string) (Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Active returns tasks that are still running.
func (g *TaskGroup) Active() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Task
	for _, t := range g.tasks {
		if t.Status == TaskRunning {
			out = append(out, *t)
		}
	}
	return out
}

func (g *TaskGroup) ActiveCount() int {
	return len(g.Active())
}

// Clean removes finished tasks older than maxAge.
func (g *TaskGroup) Clean(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range g.tasks {
		if t.Status != TaskRunning && t.DoneAt.Before(cutoff) {
			delete(g.tasks, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every task and waits for them until ctx expires.
func (g *TaskGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		active := len(g.Active())
		g.logger.Warn("background tasks still running at shutdown deadline", zap.Int("active", active))
		return fmt.Errorf("%d background tasks did not stop: %w", active, ctx.Err())
	}
}
