// Package orchestration implements a minimal in-process event bus
// backing /api/orchestration/*: spawning named task markers, looking
// up their status and terminal results, and subscribing to their
// events. There is no real multi-agent runtime here — that remains an
// external collaborator; this package only tracks the bookkeeping the
// API surface needs to multiplex it.
package orchestration

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a spawned task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is one published occurrence, scoped to a task.
type Event struct {
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task tracks one spawned unit of work.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

var ErrTaskNotFound = errors.New("orchestration: task not found")

// Bus is a process-wide event bus plus task registry. Subscribers
// receive every event published after they subscribe; the bus never
// blocks a publisher on a slow subscriber — sends to a full
// subscriber channel are dropped.
type Bus struct {
	mu          sync.RWMutex
	tasks       map[string]*Task
	subscribers map[string]chan Event
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{
		tasks:       make(map[string]*Task),
		subscribers: make(map[string]chan Event),
	}
}

// Spawn registers a new task marker and returns its ID.
func (b *Bus) Spawn(name string) *Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	b.tasks[task.ID] = task
	return task
}

// Status looks up a task by ID.
func (b *Bus) Status(taskID string) (*Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	task, ok := b.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Complete marks a task completed with a result.
func (b *Bus) Complete(taskID string, result any) error {
	return b.finish(taskID, StatusCompleted, result, "")
}

// Fail marks a task failed with an error message.
func (b *Bus) Fail(taskID string, errMsg string) error {
	return b.finish(taskID, StatusFailed, nil, errMsg)
}

func (b *Bus) finish(taskID string, status Status, result any, errMsg string) error {
	b.mu.Lock()
	task, ok := b.tasks[taskID]
	if !ok {
		b.mu.Unlock()
		return ErrTaskNotFound
	}
	task.Status = status
	task.Result = result
	task.Error = errMsg
	b.mu.Unlock()

	b.Publish(Event{TaskID: taskID, Type: string(status), Payload: result, Timestamp: time.Now().UTC()})
	return nil
}

// Results returns the task with its terminal result or error message. A
// task that is still running is returned as is, with no result.
func (b *Bus) Results(taskID string) (*Task, error) {
	task, err := b.Status(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == StatusRunning {
		return task, nil
	}
	return task, nil
}

// Publish broadcasts event to every current subscriber. Full
// subscriber channels are skipped rather than blocking the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of future events and an unsubscribe
// func the caller must call when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 32)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		close(ch)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}
