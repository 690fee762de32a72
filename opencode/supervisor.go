// Package opencode drives an opencode-style coding-agent CLI subprocess to
// genuine completion. The supervisor owns exactly one subprocess per task
// run, decodes its fragmented JSON output stream, and re-exports it as a
// typed event stream; a completion enforcer decides, independent of the
// agent's own judgment, when the task is actually done.
package opencode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/xztxy/taskdriver/protocol"
)

// Supervisor owns one agent subprocess per task run and re-exports parsed
// protocol events as a typed stream. All message routing happens on the
// subprocess callback path under a single lock, so state mutation is
// serialized; caller-facing operations take the same lock.
type Supervisor struct {
	logger   *slog.Logger
	parser   *protocol.StreamParser
	enforcer *Enforcer
	process  agentProcess
	run      *taskRun
	events   chan Event
	spawn    spawnFunc
	config   Config
	mu       sync.Mutex
	disposed bool
}

// NewSupervisor creates a supervisor with options.
func NewSupervisor(opts ...Option) *Supervisor {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = nopLogger
	}

	s := &Supervisor{
		config: config,
		logger: config.Logger,
		events: make(chan Event, config.EventBufferSize),
		spawn:  startProcess,
	}
	s.enforcer = newEnforcer(config.MaxContinuationAttempts, config.Logger)
	s.parser = protocol.NewStreamParser(s.routeLocked)
	s.parser.SetWarningHandler(s.parseWarningLocked)
	return s
}

// Events returns the typed event channel. It is closed by Dispose.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// SessionID returns the session identifier reported by the agent for the
// current run, or "" if none has been observed yet.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.sessionID
}

// StartTask resets per-run state and spawns a new agent subprocess for the
// given task. It returns a task descriptor immediately, without waiting for
// agent completion; progress arrives on the event channel.
func (s *Supervisor) StartTask(ctx context.Context, cfg TaskConfig) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ErrDisposed
	}

	if cfg.Model == "" {
		cfg.Model = s.config.Model
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = s.config.WorkDir
	}

	// At most one live subprocess per supervisor: a new start replaces any
	// current run outright.
	if s.process != nil {
		s.process.Kill()
		s.process = nil
	}
	s.enforcer.Reset()

	task := newTask(cfg.Prompt)
	run := &taskRun{taskID: task.ID, sessionID: cfg.SessionID, config: cfg}
	s.run = run

	if err := s.spawnLocked(ctx, run, cfg.Prompt); err != nil {
		s.run = nil
		return nil, err
	}

	s.logger.Info("task started",
		"taskID", task.ID,
		"resume", cfg.SessionID != "",
	)
	return task, nil
}

// ResumeSession starts a task that reattaches prior conversation state.
func (s *Supervisor) ResumeSession(ctx context.Context, sessionID, prompt string) (*Task, error) {
	return s.StartTask(ctx, TaskConfig{Prompt: prompt, SessionID: sessionID})
}

// SendResponse writes a response line to the agent's terminal input.
func (s *Supervisor) SendResponse(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.process == nil {
		return ErrNoActiveProcess
	}
	return s.process.Write(text + "\n")
}

// InterruptTask sends the interrupt control byte to the agent and marks the
// run interrupted, so a subsequent clean exit before any completion claim is
// classified interrupted rather than success. No-op without a process.
func (s *Supervisor) InterruptTask() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process == nil || s.run == nil {
		return nil
	}
	s.run.interrupted = true
	return s.process.Interrupt()
}

// CancelTask force-kills the subprocess. No further events are emitted for
// the cancelled run.
func (s *Supervisor) CancelTask() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process == nil {
		return
	}
	p := s.process
	s.process = nil
	if s.run != nil {
		s.run.completed = true
	}
	p.Kill()
}

// Dispose tears the supervisor down: kills any active subprocess, clears all
// per-run state, and closes the event channel. Idempotent; StartTask fails
// with ErrDisposed afterwards.
func (s *Supervisor) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true

	if s.process != nil {
		s.process.Kill()
		s.process = nil
	}
	s.run = nil
	close(s.events)
}

// spawnLocked builds the command line via the injected builder and starts a
// subprocess for run. The continuation path reuses it with the recorded
// session id so the CLI reattaches the same conversation.
func (s *Supervisor) spawnLocked(ctx context.Context, run *taskRun, prompt string) error {
	cfg := run.config
	cfg.Prompt = prompt
	cfg.SessionID = run.sessionID

	command, err := s.config.Builder.CLICommand(ctx)
	if err != nil {
		return fmt.Errorf("resolve CLI command: %w", err)
	}
	args, err := s.config.Builder.BuildArgs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build CLI args: %w", err)
	}
	env, err := s.config.Builder.BuildEnv(ctx, run.taskID)
	if err != nil {
		return fmt.Errorf("build environment: %w", err)
	}

	s.parser.Reset()

	proc, err := s.spawn(
		processSpec{Command: command, Args: args, Env: env, Dir: cfg.WorkDir},
		func(chunk string) { s.handleOutput(run, chunk) },
		func(code int) { s.handleExit(run, code) },
	)
	if err != nil {
		return err
	}
	s.process = proc
	return nil
}

// handleOutput is the subprocess output callback. It strips ANSI control
// sequences, surfaces the cleaned text on the debug channel, and feeds it to
// the stream parser, which routes any completed messages synchronously.
func (s *Supervisor) handleOutput(run *taskRun, chunk string) {
	clean := ansi.Strip(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || run != s.run || run.completed {
		return
	}
	// Only empty chunks are skipped. Whitespace-only chunks must still reach
	// the parser: a read boundary can land inside a string literal, and those
	// bytes belong to the payload.
	if clean == "" {
		return
	}

	s.emitLocked(DebugEvent{Kind: DebugKindStdout, Message: clean})
	s.parser.Feed(clean)
}

// handleExit is the subprocess exit callback. A clean exit is not the end of
// the task: the enforcer may instead demand a continuation run, spawned here
// before the caller ever sees a terminal signal.
func (s *Supervisor) handleExit(run *taskRun, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || run != s.run {
		return
	}
	s.process = nil

	// Trailing buffered output may still hold a final message.
	s.parser.Flush()

	if run.completed {
		return
	}

	if run.interrupted && code == 0 {
		s.completeLocked(run, StatusInterrupted, nil)
		return
	}

	if code != 0 {
		run.completed = true
		s.emitLocked(ErrorEvent{
			Err:      &ProcessError{Message: "agent process exited unexpectedly", ExitCode: code},
			ExitCode: code,
		})
		s.logger.Warn("agent process failed", "taskID", run.taskID, "exitCode", code)
		return
	}

	action := s.enforcer.HandleProcessExit(code)
	if !action.Continue {
		s.completeLocked(run, s.enforcer.FinalStatus(), nil)
		return
	}

	s.logger.Info("starting continuation run",
		"taskID", run.taskID,
		"sessionID", run.sessionID,
		"attempt", s.enforcer.Attempts(),
	)
	if err := s.spawnLocked(context.Background(), run, action.Prompt); err != nil {
		run.completed = true
		s.emitLocked(ErrorEvent{Err: fmt.Errorf("continuation spawn failed: %w", err)})
	}
}

// routeLocked maps one parsed message to events and enforcer updates.
// Called synchronously from the parser while the supervisor lock is held.
func (s *Supervisor) routeLocked(msg protocol.Message) {
	run := s.run
	if run == nil || run.completed {
		return
	}

	switch m := msg.(type) {
	case protocol.StepStartMessage:
		s.captureSessionLocked(run, m.Part.SessionID)
		s.emitLocked(ProgressEvent{Stage: "connecting", ModelName: run.config.Model})

	case protocol.TextMessage:
		s.captureSessionLocked(run, m.Part.SessionID)
		s.emitLocked(MessageEvent{Message: m})

	case protocol.ToolCallMessage:
		s.routeToolLocked(m.Part, false)

	case protocol.ToolUseMessage:
		s.routeToolLocked(m.Part, true)

	case protocol.ToolResultMessage:
		s.emitLocked(ToolResultEvent{Output: m.Part.Output})

	case protocol.StepFinishMessage:
		s.routeStepFinishLocked(run, m.Part.Reason)

	case protocol.ErrorMessage:
		s.completeLocked(run, StatusError, errors.New(m.Error))
	}
}

func (s *Supervisor) captureSessionLocked(run *taskRun, sessionID string) {
	if run.sessionID == "" && sessionID != "" {
		run.sessionID = sessionID
		s.logger.Debug("session captured", "sessionID", sessionID)
	}
}

// routeToolLocked handles tool_call/tool_use parts. The reserved tools are
// intercepted for the enforcer; everything else surfaces as tool events.
func (s *Supervisor) routeToolLocked(part protocol.Part, hasState bool) {
	s.enforcer.NoteToolUse()

	name := part.Tool
	input := part.ToolInput()

	switch {
	case isCompleteTaskTool(name):
		args := completeTaskArgsFromInput(input)
		if s.enforcer.HandleCompleteTask(args) {
			s.logger.Info("completion claim", "status", args.Status)
		}

	case isWriteTodosTool(name):
		items := todosFromInput(input)
		if len(items) > 0 {
			s.enforcer.NoteTodos(items)
			s.emitLocked(TodoUpdateEvent{Items: items})
		}

	default:
		s.emitLocked(ToolUseEvent{Name: name, Input: input})
		s.emitLocked(ProgressEvent{Stage: "working", Message: name})
		if hasState && (part.State.Status == "completed" || part.State.Status == "error") {
			s.emitLocked(ToolResultEvent{Output: part.State.Output})
		}
	}
}

func (s *Supervisor) routeStepFinishLocked(run *taskRun, reason string) {
	if reason == "error" {
		s.completeLocked(run, StatusError, nil)
		return
	}

	switch s.enforcer.HandleStepFinish(reason) {
	case VerdictComplete:
		s.completeLocked(run, s.enforcer.FinalStatus(), nil)
	case VerdictPending:
		s.emitLocked(DebugEvent{
			Kind:    DebugKindContinuation,
			Message: fmt.Sprintf("continuation scheduled (attempt %d of %d)", s.enforcer.Attempts(), s.config.MaxContinuationAttempts),
		})
	case VerdictContinue:
		// Turn not over; keep streaming.
	}
}

// completeLocked emits the single terminal signal for the run, at most once.
func (s *Supervisor) completeLocked(run *taskRun, status CompletionStatus, err error) {
	if run.completed {
		return
	}
	run.completed = true
	s.emitLocked(CompleteEvent{Status: status, SessionID: run.sessionID, Err: err})
	s.logger.Info("task complete",
		"taskID", run.taskID,
		"status", status,
	)
}

func (s *Supervisor) parseWarningLocked(span []byte, err error) {
	s.logger.Debug("dropped invalid protocol span",
		"error", err,
		"bytes", len(span),
	)
	s.emitLocked(DebugEvent{Kind: DebugKindParseWarning, Message: err.Error()})
}

// emitLocked sends an event without blocking the routing path. When the
// caller stops draining and the buffer fills, events are dropped.
func (s *Supervisor) emitLocked(event Event) {
	if s.disposed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("event channel full, dropping event", "eventType", event.Type())
	}
}
