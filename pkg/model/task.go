package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskID string

// NewTaskID generates a new unique TaskID
func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskPending       TaskState = "pending"
	TaskBidding       TaskState = "bidding"
	TaskAssigned      TaskState = "assigned"
	TaskExecuting     TaskState = "executing"
	TaskAwaitingInput TaskState = "awaitingInput"
	TaskComplete      TaskState = "complete"
	TaskFailed        TaskState = "failed"
	TaskCancelled     TaskState = "cancelled"
	TaskTimedOut      TaskState = "timedOut"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskComplete, TaskFailed, TaskCancelled, TaskTimedOut:
		return true
	default:
		return false
	}
}

// Task wraps one user utterance through the exchange. Tasks are never
// persisted beyond the process lifetime.
type Task struct {
	ID        TaskID
	Utterance string
	Context   map[string]any
	CreatedAt time.Time
	State     TaskState
	AgentID   string
}

// NewTask creates a pending task for an utterance.
func NewTask(utterance string) *Task {
	return &Task{
		ID:        NewTaskID(),
		Utterance: utterance,
		CreatedAt: time.Now(),
		State:     TaskPending,
	}
}

// Result is the normalized outcome of an agent execution. Errors never
// cross the exchange boundary as exceptions; they are converted to a
// failed Result with a message.
type Result struct {
	Success bool
	Message string
	Speak   string
	// NeedsInput, when set, parks the task awaiting a follow-up
	// utterance routed back to the same agent.
	NeedsInput *InputRequest
	// Undo, when set, is recorded in response memory for the undo
	// window.
	Undo *Undoable
}

// InputRequest is the needsInput envelope an agent returns to ask for
// a follow-up.
type InputRequest struct {
	Prompt  string
	AgentID string
	Context map[string]any
}

// Undoable is a reversible action with an absolute expiry.
type Undoable struct {
	Description string
	Fn          func() error
	ExpiresAt   time.Time
}
