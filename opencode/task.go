package opencode

import (
	"time"

	"github.com/google/uuid"

	"github.com/xztxy/taskdriver/protocol"
)

// TaskStatus is the caller-visible status of a task descriptor.
type TaskStatus string

const (
	TaskStatusRunning TaskStatus = "running"
)

// Task is the descriptor returned from StartTask/ResumeSession. It is a
// snapshot for the caller; message history persistence is out of scope, so
// Messages stays empty here.
type Task struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        string
	Prompt    string
	Status    TaskStatus
	Messages  []protocol.Message
}

func newTask(prompt string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    TaskStatusRunning,
		Messages:  []protocol.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// taskRun is the supervisor's internal state for one subprocess lifetime
// (plus its continuation sub-runs). Exactly one is live per supervisor.
type taskRun struct {
	taskID      string
	sessionID   string
	config      TaskConfig
	interrupted bool
	// completed latches once a terminal signal (or unterminated error) has
	// been emitted; nothing further is emitted for this run.
	completed bool
}
