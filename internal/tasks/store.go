// Package tasks implements the background-task registry: the bookkeeping
// the tool dispatcher uses to track tool calls that were dispatched in
// background mode and are polled later via task_status/task_wait.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/riverrun/agentcp/pkg/models"
)

// Status is the lifecycle state of a background task. Unlike a generic job
// queue there is no "queued" state: a task is created already Running, since
// the dispatcher only registers a task once it has actually started the
// tool call in a goroutine.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Mode is the invocation mode the tool dispatcher used to run the task.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeTimed      Mode = "timed"
)

// Task is a single background tool invocation tracked by the registry.
type Task struct {
	ID         string             `json:"id"`
	ToolName   string             `json:"tool_name"`
	ToolCallID string             `json:"tool_call_id"`
	Mode       Mode               `json:"mode"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
	Result     *models.ToolResult `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`

	// cancel is called by Cancel to request the underlying tool execution
	// stop; it is not persisted.
	cancel context.CancelFunc `json:"-"`
}

// Store persists background task records and supports the polling
// operations the task_status/task_wait tools are built on.
type Store interface {
	// Create registers a new running task.
	Create(ctx context.Context, task *Task) error

	// Update overwrites a task record, e.g. on completion or failure.
	Update(ctx context.Context, task *Task) error

	// Get returns a task by id, or nil if not found.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks in creation order.
	List(ctx context.Context, limit, offset int) ([]*Task, error)

	// Cancel requests cancellation of a running task, marking it Failed.
	Cancel(ctx context.Context, id string) error

	// Prune removes finished tasks older than the given duration. Returns
	// the count pruned.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryStore keeps tasks in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	keys  []string
}

// NewMemoryStore returns a new in-memory background task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.keys = append(s.keys, task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, task *Task) error {
	if task == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Preserve the cancel func across updates; callers pass value copies
	// that don't carry it.
	if existing, ok := s.tasks[task.ID]; ok && task.cancel == nil {
		task.cancel = existing.cancel
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > len(s.keys) {
		limit = len(s.keys)
	}
	if offset >= len(s.keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.keys) {
		end = len(s.keys)
	}
	result := make([]*Task, 0, end-offset)
	for _, id := range s.keys[offset:end] {
		if task, ok := s.tasks[id]; ok {
			result = append(result, cloneTask(task))
		}
	}
	return result, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	if task.Status == StatusRunning {
		if task.cancel != nil {
			task.cancel()
		}
		task.Status = StatusFailed
		task.Error = "task cancelled"
		task.FinishedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	var newKeys []string

	for _, id := range s.keys {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Status != StatusRunning && task.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			pruned++
			continue
		}
		newKeys = append(newKeys, id)
	}
	s.keys = newKeys
	return pruned, nil
}

// SetCancelFunc attaches a cancel function to a running task so Cancel can
// request it to stop.
func (s *MemoryStore) SetCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.cancel = cancel
	}
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	clone := *task
	if task.Result != nil {
		result := *task.Result
		clone.Result = &result
	}
	return &clone
}
