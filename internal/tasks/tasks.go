package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonicdm/pyLapse/internal/executor"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
)

// Status is a task's lifecycle state. Terminal states are absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobFunc is the work a task runs. It must honor ctx for cooperative
// cancellation and may call progress to publish completion counts.
type JobFunc func(ctx context.Context, progress executor.ProgressFunc) (interface{}, error)

// Task is a tracked background job. All fields are guarded by mu;
// callers read a consistent copy via Snapshot.
type Task struct {
	ID   string
	Name string

	mu         sync.Mutex
	status     Status
	progress   float64
	current    int
	total      int
	message    string
	errText    string
	result     interface{}
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
}

// Snapshot is a point-in-time copy of a task's observable state.
type Snapshot struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     Status      `json:"status"`
	Progress   float64     `json:"progress"`
	Current    int         `json:"current"`
	Total      int         `json:"total"`
	Message    string      `json:"message"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  time.Time   `json:"startedAt,omitempty"`
	FinishedAt time.Time   `json:"finishedAt,omitempty"`
}

// Snapshot returns a consistent copy of the task state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:         t.ID,
		Name:       t.Name,
		Status:     t.status,
		Progress:   t.progress,
		Current:    t.current,
		Total:      t.total,
		Message:    t.message,
		Error:      t.errText,
		Result:     t.result,
		CreatedAt:  t.createdAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// setProgress publishes a progress update. A total of 0 means the
// phase length is not yet known.
func (t *Task) setProgress(completed, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = completed
	t.total = total
	t.message = message
	if total > 0 {
		t.progress = float64(completed) / float64(total) * 100
	} else {
		t.progress = 0
	}
}

// transition moves the task to next unless it is already terminal.
// Returns false when the transition was refused.
func (t *Task) transition(next Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = next
	switch next {
	case StatusRunning:
		t.startedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.finishedAt = time.Now()
	}
	return true
}

// Manager creates, tracks, and cancels background tasks. Construct one
// at startup and pass it to anything that submits work; there is no
// package-level registry.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewManager returns an empty task manager.
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]*Task)}
}

// Create registers a task and starts fn on its own goroutine. The
// returned task is already observable in pending state.
func (m *Manager) Create(name string, fn JobFunc) *Task {
	ctx, cancel := context.WithCancel(context.Background())

	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		status:    StatusPending,
		createdAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go m.run(ctx, task, fn)
	return task
}

func (m *Manager) run(ctx context.Context, task *Task, fn JobFunc) {
	// Release the task's context once the job returns; long-running
	// scheduled mode would otherwise accumulate live contexts.
	defer task.cancel()

	if !task.transition(StatusRunning) {
		return
	}
	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	logging.Info("Task %s (%s) started", task.ID, task.Name)

	result, err := fn(ctx, task.setProgress)

	switch {
	case err == nil:
		task.mu.Lock()
		task.result = result
		if task.total > 0 {
			task.progress = 100
			task.current = task.total
		}
		task.mu.Unlock()
		task.transition(StatusCompleted)
		metrics.TasksTotal.WithLabelValues(string(StatusCompleted)).Inc()
		logging.Info("Task %s completed", task.ID)

	case executor.IsCancelled(err) || ctx.Err() != nil:
		task.transition(StatusCancelled)
		metrics.TasksTotal.WithLabelValues(string(StatusCancelled)).Inc()
		logging.Info("Task %s cancelled", task.ID)

	default:
		task.mu.Lock()
		task.errText = err.Error()
		task.mu.Unlock()
		task.transition(StatusFailed)
		metrics.TasksTotal.WithLabelValues(string(StatusFailed)).Inc()
		logging.Error("Task %s failed: %v", task.ID, err)
	}
}

// Get returns a task by id.
func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task, ok
}

// All returns snapshots of every known task, newest first.
func (m *Manager) All() []Snapshot {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		snaps[i] = t.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Cancel requests cooperative cancellation of a task. It returns false
// for unknown tasks and for tasks already in a terminal state. The
// status flips to cancelled once the job observes the cancellation at
// its next checkpoint.
func (m *Manager) Cancel(id string) bool {
	task, ok := m.Get(id)
	if !ok {
		return false
	}
	if task.Status().Terminal() {
		return false
	}
	logging.Info("Task %s cancellation requested", id)
	task.cancel()
	return true
}

// Remove drops a terminal task from the registry. Running tasks are
// kept so their status stays observable.
func (m *Manager) Remove(id string) bool {
	task, ok := m.Get(id)
	if !ok || !task.Status().Terminal() {
		return false
	}
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
	return true
}
