package opencode

import "github.com/xztxy/taskdriver/protocol"

// EventType discriminates between event kinds.
type EventType int

const (
	// EventTypeDebug carries diagnostic output (raw stream text, parse
	// warnings, continuation scheduling).
	EventTypeDebug EventType = iota
	// EventTypeProgress fires on coarse progress stage changes.
	EventTypeProgress
	// EventTypeMessage carries a protocol text message verbatim.
	EventTypeMessage
	// EventTypeToolUse fires when the agent invokes a tool.
	EventTypeToolUse
	// EventTypeToolResult fires when a tool finishes with output.
	EventTypeToolResult
	// EventTypeTodoUpdate fires when the agent rewrites its checklist.
	EventTypeTodoUpdate
	// EventTypeComplete is the single terminal signal for a task.
	EventTypeComplete
	// EventTypeError fires on process failures with no completion latched.
	EventTypeError
)

// Event is the interface for all supervisor events.
type Event interface {
	Type() EventType
}

// Debug event kinds.
const (
	DebugKindStdout       = "stdout"
	DebugKindParseWarning = "parse-warning"
	DebugKindContinuation = "continuation"
)

// DebugEvent carries diagnostic output.
type DebugEvent struct {
	Kind    string
	Message string
}

// Type returns the event type.
func (e DebugEvent) Type() EventType { return EventTypeDebug }

// ProgressEvent fires on coarse progress stage changes.
type ProgressEvent struct {
	Stage     string
	Message   string
	ModelName string
}

// Type returns the event type.
func (e ProgressEvent) Type() EventType { return EventTypeProgress }

// MessageEvent carries a protocol text message verbatim.
type MessageEvent struct {
	Message protocol.Message
}

// Type returns the event type.
func (e MessageEvent) Type() EventType { return EventTypeMessage }

// ToolUseEvent fires when the agent invokes a tool.
type ToolUseEvent struct {
	Input map[string]interface{}
	Name  string
}

// Type returns the event type.
func (e ToolUseEvent) Type() EventType { return EventTypeToolUse }

// ToolResultEvent fires when a tool finishes with output.
type ToolResultEvent struct {
	Output string
}

// Type returns the event type.
func (e ToolResultEvent) Type() EventType { return EventTypeToolResult }

// TodoUpdateEvent carries the agent's latest checklist, replaced wholesale.
type TodoUpdateEvent struct {
	Items []TodoItem
}

// Type returns the event type.
func (e TodoUpdateEvent) Type() EventType { return EventTypeTodoUpdate }

// CompletionStatus is the terminal outcome of a task.
type CompletionStatus string

const (
	StatusSuccess     CompletionStatus = "success"
	StatusError       CompletionStatus = "error"
	StatusInterrupted CompletionStatus = "interrupted"
	StatusBlocked     CompletionStatus = "blocked"
)

// CompleteEvent is the single terminal signal for a task. At most one is
// emitted per logical task, even across continuation sub-runs.
type CompleteEvent struct {
	Err       error
	Status    CompletionStatus
	SessionID string
}

// Type returns the event type.
func (e CompleteEvent) Type() EventType { return EventTypeComplete }

// ErrorEvent fires when the subprocess fails with no completion latched.
// No CompleteEvent follows; callers must treat the task as failed.
type ErrorEvent struct {
	Err      error
	ExitCode int
}

// Type returns the event type.
func (e ErrorEvent) Type() EventType { return EventTypeError }
