package opencode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xztxy/taskdriver/protocol"
)

type fakeProcess struct {
	writes     []string
	interrupts int
	killed     bool
}

func (p *fakeProcess) Write(text string) error { p.writes = append(p.writes, text); return nil }
func (p *fakeProcess) Interrupt() error        { p.interrupts++; return nil }
func (p *fakeProcess) Kill()                   { p.killed = true }

// spawnedRun records one spawned subprocess: its spec plus the callbacks the
// supervisor registered, so tests can feed output and exits directly.
type spawnedRun struct {
	spec     processSpec
	proc     *fakeProcess
	onOutput func(string)
	onExit   func(int)
}

type fakeSpawner struct {
	runs []*spawnedRun
	err  error
}

func (f *fakeSpawner) spawn(spec processSpec, onOutput func(string), onExit func(int)) (agentProcess, error) {
	if f.err != nil {
		return nil, f.err
	}
	run := &spawnedRun{spec: spec, proc: &fakeProcess{}, onOutput: onOutput, onExit: onExit}
	f.runs = append(f.runs, run)
	return run.proc, nil
}

func newTestSupervisor(t *testing.T, opts ...Option) (*Supervisor, *fakeSpawner) {
	t.Helper()
	sup := NewSupervisor(opts...)
	fake := &fakeSpawner{}
	sup.spawn = fake.spawn
	t.Cleanup(sup.Dispose)
	return sup, fake
}

// drainEvents collects everything currently buffered on the event channel.
func drainEvents(sup *Supervisor) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-sup.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventsOfType(events []Event, et EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type() == et {
			out = append(out, e)
		}
	}
	return out
}

func debugEventsOfKind(events []Event, kind string) []DebugEvent {
	var out []DebugEvent
	for _, e := range events {
		if d, ok := e.(DebugEvent); ok && d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func TestSupervisor_StartTaskSpawns(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	task, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "fix the build"})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskStatusRunning, task.Status)

	require.Len(t, fake.runs, 1)
	spec := fake.runs[0].spec
	assert.Equal(t, "opencode", spec.Command)
	assert.Contains(t, spec.Args, "fix the build")
	assert.NotContains(t, spec.Args, "--session")
}

func TestSupervisor_StartTaskSpawnError(t *testing.T) {
	sup := NewSupervisor()
	fake := &fakeSpawner{err: &CLINotFoundError{Path: "opencode"}}
	sup.spawn = fake.spawn
	defer sup.Dispose()

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	var notFound *CLINotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSupervisor_ResumeSessionPassesSessionArg(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.ResumeSession(context.Background(), "ses_42", "keep going")
	require.NoError(t, err)

	require.Len(t, fake.runs, 1)
	args := fake.runs[0].spec.Args
	assert.Contains(t, args, "--session")
	assert.Contains(t, args, "ses_42")
	assert.Equal(t, "ses_42", sup.SessionID())
}

// An agent that writes a checklist and then stops without calling
// complete_task must not be treated as finished: the supervisor records the
// todos, emits no terminal signal, and schedules a continuation.
func TestSupervisor_StopWithOpenTodosSchedulesContinuation(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "build the feature"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"step_start","part":{"sessionID":"ses_1"}}` + "\n")
	run.onOutput(`{"type":"tool_call","part":{"tool":"write_todos","input":{"todos":[` +
		`{"id":"1","content":"write code","status":"pending"},` +
		`{"id":"2","content":"run tests","status":"pending"}]}}}` + "\n")
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}` + "\n")

	events := drainEvents(sup)

	todoEvents := eventsOfType(events, EventTypeTodoUpdate)
	require.Len(t, todoEvents, 1)
	assert.Len(t, todoEvents[0].(TodoUpdateEvent).Items, 2)

	assert.Empty(t, eventsOfType(events, EventTypeComplete))
	assert.Len(t, debugEventsOfKind(events, DebugKindContinuation), 1)
	assert.Equal(t, "ses_1", sup.SessionID())
}

func TestSupervisor_ContinuationRespawnsSameSession(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "build the feature"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"step_start","part":{"sessionID":"ses_1"}}`)
	run.onOutput(`{"type":"tool_call","part":{"tool":"bash","input":{"command":"ls"}}}`)
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)
	run.onExit(0)

	require.Len(t, fake.runs, 2, "expected a continuation subprocess")
	args := fake.runs[1].spec.Args
	assert.Contains(t, args, "--session")
	assert.Contains(t, args, "ses_1")
	assert.Contains(t, args[len(args)-1], "complete_task")

	events := drainEvents(sup)
	assert.Empty(t, eventsOfType(events, EventTypeComplete))
}

func TestSupervisor_CompleteTaskSuccess(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "small fix"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"step_start","part":{"sessionID":"ses_7"}}`)
	run.onOutput(`{"type":"tool_call","part":{"tool":"complete_task","input":{"status":"success","summary":"fixed"}}}`)
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)
	run.onExit(0)

	events := drainEvents(sup)
	completes := eventsOfType(events, EventTypeComplete)
	require.Len(t, completes, 1)
	ce := completes[0].(CompleteEvent)
	assert.Equal(t, StatusSuccess, ce.Status)
	assert.Equal(t, "ses_7", ce.SessionID)
	assert.NoError(t, ce.Err)

	// No continuation subprocess after a genuine completion.
	assert.Len(t, fake.runs, 1)
}

func TestSupervisor_PrefixedCompleteTaskToolMatches(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"tool_call","part":{"tool":"mcp__driver__complete_task","input":{"status":"success","summary":"done"}}}`)
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)

	events := drainEvents(sup)
	require.Len(t, eventsOfType(events, EventTypeComplete), 1)
}

func TestSupervisor_SuccessClaimDowngradedByOpenTodos(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "ship it"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"tool_call","part":{"tool":"write_todos","input":{"todos":[` +
		`{"id":"1","content":"ship docs","status":"pending"}]}}}`)
	run.onOutput(`{"type":"tool_call","part":{"tool":"complete_task","input":{"status":"success","summary":"done"}}}`)
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)

	events := drainEvents(sup)
	assert.Empty(t, eventsOfType(events, EventTypeComplete), "downgraded claim must not complete")

	run.onExit(0)
	require.Len(t, fake.runs, 2)
	assert.Contains(t, fake.runs[1].spec.Args[len(fake.runs[1].spec.Args)-1], "ship docs")
}

func TestSupervisor_ErrorMessageCompletesWithError(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"error","error":"rate limit exceeded"}`)

	events := drainEvents(sup)
	completes := eventsOfType(events, EventTypeComplete)
	require.Len(t, completes, 1)
	ce := completes[0].(CompleteEvent)
	assert.Equal(t, StatusError, ce.Status)
	require.Error(t, ce.Err)
	assert.Contains(t, ce.Err.Error(), "rate limit")

	// Output after the terminal signal is ignored.
	run.onOutput(`{"type":"text","part":{"text":"late"}}`)
	assert.Empty(t, drainEvents(sup))
}

func TestSupervisor_NonZeroExitEmitsErrorEvent(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"step_start","part":{"sessionID":"ses_1"}}`)
	run.onExit(2)

	events := drainEvents(sup)
	assert.Empty(t, eventsOfType(events, EventTypeComplete))
	errEvents := eventsOfType(events, EventTypeError)
	require.Len(t, errEvents, 1)

	ee := errEvents[0].(ErrorEvent)
	assert.Equal(t, 2, ee.ExitCode)
	var procErr *ProcessError
	require.ErrorAs(t, ee.Err, &procErr)
	assert.Equal(t, 2, procErr.ExitCode)
}

func TestSupervisor_InterruptedCleanExit(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"step_start","part":{"sessionID":"ses_1"}}`)
	require.NoError(t, sup.InterruptTask())
	assert.Equal(t, 1, run.proc.interrupts)

	run.onExit(0)

	events := drainEvents(sup)
	completes := eventsOfType(events, EventTypeComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, StatusInterrupted, completes[0].(CompleteEvent).Status)
}

func TestSupervisor_ToolUseEmitsUseAndResult(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"tool_use","part":{"tool":"bash","state":{"status":"completed","input":{"command":"ls"},"output":"a.go"}}}`)

	events := drainEvents(sup)
	uses := eventsOfType(events, EventTypeToolUse)
	require.Len(t, uses, 1)
	tu := uses[0].(ToolUseEvent)
	assert.Equal(t, "bash", tu.Name)
	assert.Equal(t, "ls", tu.Input["command"])

	results := eventsOfType(events, EventTypeToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].(ToolResultEvent).Output)
}

func TestSupervisor_AnsiStrippedBeforeParsing(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput("\x1b[32m" + `{"type":"text","part":{"text":"hi"}}` + "\x1b[0m\n")

	events := drainEvents(sup)
	msgs := eventsOfType(events, EventTypeMessage)
	require.Len(t, msgs, 1)
	assert.Empty(t, debugEventsOfKind(events, DebugKindParseWarning))
}

// A read boundary can split a message so that one chunk is nothing but
// whitespace inside a string literal. Those bytes are payload and must reach
// the parser intact.
func TestSupervisor_WhitespaceOnlyChunkPreservedInPayload(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"text","part":{"text":"a`)
	run.onOutput(`    `)
	run.onOutput(`b"}}`)

	events := drainEvents(sup)
	msgs := eventsOfType(events, EventTypeMessage)
	require.Len(t, msgs, 1)
	text := msgs[0].(MessageEvent).Message.(protocol.TextMessage)
	assert.Equal(t, "a    b", text.Part.Text)
}

func TestSupervisor_ParseWarningSurfacedAsDebug(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{ broken span }{"type":"text","part":{"text":"ok"}}`)

	events := drainEvents(sup)
	assert.Len(t, debugEventsOfKind(events, DebugKindParseWarning), 1)
	assert.Len(t, eventsOfType(events, EventTypeMessage), 1)
}

func TestSupervisor_MaxRetriesFinalizesAsSuccess(t *testing.T) {
	sup, fake := newTestSupervisor(t, WithMaxContinuationAttempts(1))

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)

	run := fake.runs[0]
	run.onOutput(`{"type":"tool_call","part":{"tool":"bash","input":{"command":"ls"}}}`)
	run.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)
	run.onExit(0)
	require.Len(t, fake.runs, 2)

	run2 := fake.runs[1]
	run2.onOutput(`{"type":"tool_call","part":{"tool":"bash","input":{"command":"ls"}}}`)
	run2.onOutput(`{"type":"step_finish","part":{"reason":"stop"}}`)

	events := drainEvents(sup)
	completes := eventsOfType(events, EventTypeComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, StatusSuccess, completes[0].(CompleteEvent).Status)
	assert.Len(t, fake.runs, 2, "no further continuation after budget exhaustion")
}

func TestSupervisor_StaleCallbacksIgnoredAfterRestart(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "first"})
	require.NoError(t, err)
	first := fake.runs[0]

	_, err = sup.StartTask(context.Background(), TaskConfig{Prompt: "second"})
	require.NoError(t, err)
	assert.True(t, first.proc.killed, "starting a new task kills the old process")
	drainEvents(sup)

	first.onOutput(`{"type":"text","part":{"text":"ghost"}}`)
	first.onExit(0)

	events := drainEvents(sup)
	assert.Empty(t, events, "callbacks from a replaced run must be ignored")
	assert.Len(t, fake.runs, 2)
}

func TestSupervisor_SendResponse(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	assert.ErrorIs(t, sup.SendResponse("hello"), ErrNoActiveProcess)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)

	require.NoError(t, sup.SendResponse("yes"))
	assert.Equal(t, []string{"yes\n"}, fake.runs[0].proc.writes)
}

func TestSupervisor_CancelTaskSilencesRun(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]
	drainEvents(sup)

	sup.CancelTask()
	assert.True(t, run.proc.killed)

	run.onExit(-1)
	assert.Empty(t, drainEvents(sup), "no events after cancel")
}

// Cancel emits no terminal event, so a consumer ranging over Events depends
// on Dispose closing the channel to get unblocked.
func TestSupervisor_CancelThenDisposeEndsEventStream(t *testing.T) {
	sup := NewSupervisor()
	fake := &fakeSpawner{}
	sup.spawn = fake.spawn

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sup.Events() {
		}
	}()

	sup.CancelTask()
	sup.Dispose()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event consumer still blocked after cancel and dispose")
	}
}

func TestSupervisor_Dispose(t *testing.T) {
	sup := NewSupervisor()
	fake := &fakeSpawner{}
	sup.spawn = fake.spawn

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)

	sup.Dispose()
	sup.Dispose()
	assert.True(t, fake.runs[0].proc.killed)

	assert.ErrorIs(t, sup.SendResponse("x"), ErrDisposed)
	_, err = sup.StartTask(context.Background(), TaskConfig{Prompt: "y"})
	assert.ErrorIs(t, err, ErrDisposed)

	// Channel is closed; draining terminates.
	for range sup.Events() {
	}
}

func TestSupervisor_FlushOnExitRecoversTrailingMessage(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	// The truncated span is only noticed at exit, via Flush.
	run.onOutput(`{"type":"text","part":{"text":"trunc`)
	run.onExit(0)

	events := drainEvents(sup)
	assert.NotEmpty(t, debugEventsOfKind(events, DebugKindParseWarning))
}

func TestSupervisor_ModelFlowsIntoArgs(t *testing.T) {
	sup, fake := newTestSupervisor(t, WithModel("gpt-5.2-codex"))

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)

	args := fake.runs[0].spec.Args
	require.True(t, len(args) >= 2)
	found := false
	for i, a := range args {
		if a == "--model" && i+1 < len(args) && args[i+1] == "gpt-5.2-codex" {
			found = true
		}
	}
	assert.True(t, found, "expected --model gpt-5.2-codex in %v", args)
}

func TestSupervisor_EmptyTodosNotSurfaced(t *testing.T) {
	sup, fake := newTestSupervisor(t)

	_, err := sup.StartTask(context.Background(), TaskConfig{Prompt: "x"})
	require.NoError(t, err)
	run := fake.runs[0]

	run.onOutput(`{"type":"tool_call","part":{"tool":"write_todos","input":{"todos":[]}}}`)

	events := drainEvents(sup)
	assert.Empty(t, eventsOfType(events, EventTypeTodoUpdate))
}

func TestProcessError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ProcessError{Cause: cause, Message: "spawn failed"}
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.Contains(err.Error(), "spawn failed"))
}
