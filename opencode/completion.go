package opencode

import (
	"fmt"
	"log/slog"
	"strings"
)

// CompletionState tracks whether a task run has genuinely finished.
type CompletionState int

const (
	// StateIdle means no completion decision has been made yet.
	StateIdle CompletionState = iota
	// StateContinuationPending means the agent stopped without calling
	// complete_task and a continuation run is scheduled for process exit.
	StateContinuationPending
	// StatePartialContinuationPending means the agent reported partial
	// completion and a continuation run is scheduled for process exit.
	StatePartialContinuationPending
	// StateBlocked means the agent reported it cannot finish.
	StateBlocked
	// StateMaxRetriesReached means the continuation budget is exhausted.
	StateMaxRetriesReached
	// StateDone means the agent successfully completed the task.
	StateDone
)

// String returns the state name.
func (s CompletionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateContinuationPending:
		return "continuation_pending"
	case StatePartialContinuationPending:
		return "partial_continuation_pending"
	case StateBlocked:
		return "blocked"
	case StateMaxRetriesReached:
		return "max_retries_reached"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state can only be left via Reset.
func (s CompletionState) Terminal() bool {
	return s == StateBlocked || s == StateMaxRetriesReached || s == StateDone
}

// CompleteTaskArgs are the arguments of the reserved complete_task tool,
// the agent's self-reported outcome.
type CompleteTaskArgs struct {
	Status                 string `json:"status" jsonschema:"required,enum=success,enum=partial,enum=blocked,description=Final status of the task"`
	Summary                string `json:"summary" jsonschema:"required,description=What was accomplished"`
	OriginalRequestSummary string `json:"original_request_summary,omitempty" jsonschema:"description=Short restatement of the original request"`
	RemainingWork          string `json:"remaining_work,omitempty" jsonschema:"description=Work still outstanding when status is partial"`
}

// TodoItem is one entry of the agent's self-maintained checklist.
type TodoItem struct {
	ID      string `json:"id" jsonschema:"required,description=Stable item identifier"`
	Content string `json:"content" jsonschema:"required,description=What the item covers"`
	Status  string `json:"status" jsonschema:"required,enum=pending,enum=in_progress,enum=completed,enum=cancelled,description=Item state"`
}

// Open reports whether the item still needs work.
func (t TodoItem) Open() bool {
	return t.Status == "pending" || t.Status == "in_progress"
}

// Verdict is the enforcer's decision after a step_finish message.
type Verdict int

const (
	// VerdictContinue means the turn is not over; keep streaming.
	VerdictContinue Verdict = iota
	// VerdictPending means a continuation is scheduled; act on process exit.
	VerdictPending
	// VerdictComplete means the task is finished; emit the terminal signal.
	VerdictComplete
)

// ExitAction is the enforcer's instruction after a process exit.
type ExitAction struct {
	// Prompt is the continuation prompt for the next sub-run.
	Prompt string
	// Continue instructs the supervisor to start a new subprocess run with
	// Prompt as the next turn, same session and task identity.
	Continue bool
}

// DefaultMaxContinuationAttempts bounds the re-prompt budget per task run.
const DefaultMaxContinuationAttempts = 20

// Enforcer decides, independent of the agent's own judgment, whether a task
// is truly done, must be blocked, or must be silently re-driven via a
// continuation. The wrapped agent may stop its own process before finishing,
// or claim success while self-tracked sub-steps remain open; this is the
// backstop for both.
//
// Enforcer is not safe for concurrent use; the supervisor serializes all
// calls on its own lock.
type Enforcer struct {
	logger       *slog.Logger
	claim        *CompleteTaskArgs
	todos        []TodoItem
	maxAttempts  int
	attempts     int
	state        CompletionState
	toolsUsed    bool
	todoActivity bool
}

func newEnforcer(maxAttempts int, logger *slog.Logger) *Enforcer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxContinuationAttempts
	}
	return &Enforcer{
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// State returns the current completion state.
func (e *Enforcer) State() CompletionState { return e.state }

// Attempts returns the continuation attempts consumed so far in this run.
func (e *Enforcer) Attempts() int { return e.attempts }

// Claim returns the recorded (possibly downgraded) completion claim, or nil.
func (e *Enforcer) Claim() *CompleteTaskArgs { return e.claim }

// Reset returns to idle, zeroes the attempt counter, and clears the claim
// and todo snapshot. Called at the start of every new top-level task, never
// between continuation sub-runs, where attempt counts deliberately persist.
func (e *Enforcer) Reset() {
	e.state = StateIdle
	e.attempts = 0
	e.claim = nil
	e.todos = nil
	e.toolsUsed = false
	e.todoActivity = false
}

// NoteToolUse records that the agent used a tool during the current sub-run.
func (e *Enforcer) NoteToolUse() { e.toolsUsed = true }

// NoteTodos replaces the todo snapshot wholesale.
func (e *Enforcer) NoteTodos(items []TodoItem) {
	e.todos = items
	e.todoActivity = true
}

// HandleCompleteTask records the agent's completion claim. A claimed success
// is downgraded to partial while the agent's own checklist has open items;
// the synthesized remaining_work names them. Returns false if a terminal
// state was already reached, in which case the claim is ignored.
func (e *Enforcer) HandleCompleteTask(args CompleteTaskArgs) bool {
	if e.state.Terminal() {
		return false
	}

	if open := openTodos(e.todos); args.Status == "success" && len(open) > 0 {
		args.Status = "partial"
		if args.RemainingWork == "" {
			args.RemainingWork = describeTodos(open)
		}
		e.logger.Info("success claim downgraded to partial",
			"openTodos", len(open),
		)
	}

	e.claim = &args

	switch args.Status {
	case "success":
		e.state = StateDone
	case "partial":
		e.state = StatePartialContinuationPending
	default:
		e.state = StateBlocked
	}

	e.logger.Debug("completion claim recorded",
		"status", args.Status,
		"state", e.state,
	)
	return true
}

// HandleStepFinish reacts to the end of a turn. Only "stop" and "end_turn"
// are actionable; all other reasons keep the turn going unchanged.
func (e *Enforcer) HandleStepFinish(reason string) Verdict {
	if reason != "stop" && reason != "end_turn" {
		return VerdictContinue
	}

	if e.state.Terminal() {
		return VerdictComplete
	}

	if e.state == StatePartialContinuationPending {
		return VerdictPending
	}

	// A turn with no completion claim, no tool use and no checklist activity
	// is conversational, not a task; let it finish.
	if e.claim == nil && !e.toolsUsed && !e.todoActivity {
		return VerdictComplete
	}

	e.attempts++
	if e.attempts > e.maxAttempts {
		e.state = StateMaxRetriesReached
		e.logger.Warn("continuation budget exhausted, finalizing",
			"attempts", e.attempts,
		)
		return VerdictComplete
	}

	e.state = StateContinuationPending
	e.logger.Debug("continuation scheduled",
		"attempt", e.attempts,
		"max", e.maxAttempts,
	)
	return VerdictPending
}

// HandleProcessExit decides what to do after the subprocess exits cleanly.
// In a continuation-pending state with exit code 0 it builds the
// continuation prompt and instructs the supervisor to respawn; the tools-used
// flag is cleared so the continuation must show fresh tool use before it may
// finish again. Everything else finalizes.
func (e *Enforcer) HandleProcessExit(exitCode int) ExitAction {
	if exitCode != 0 {
		return ExitAction{}
	}

	switch e.state {
	case StatePartialContinuationPending:
		e.attempts++
		if e.attempts > e.maxAttempts {
			e.state = StateMaxRetriesReached
			e.logger.Warn("continuation budget exhausted on partial claim, finalizing",
				"attempts", e.attempts,
			)
			return ExitAction{}
		}
		prompt := e.partialContinuationPrompt()
		e.toolsUsed = false
		e.state = StateIdle
		return ExitAction{Continue: true, Prompt: prompt}

	case StateContinuationPending:
		e.toolsUsed = false
		e.state = StateIdle
		return ExitAction{Continue: true, Prompt: continuationReminder}

	default:
		return ExitAction{}
	}
}

// FinalStatus maps the recorded claim (or its absence) onto the terminal
// completion status. With no claim, finishing counts as success: the
// conversational-turn and exhausted-budget paths both end here, and stalling
// the caller indefinitely is worse than under-verifying completion.
func (e *Enforcer) FinalStatus() CompletionStatus {
	if e.state == StateMaxRetriesReached || e.claim == nil {
		return StatusSuccess
	}
	switch e.claim.Status {
	case "success":
		return StatusSuccess
	case "partial":
		return StatusSuccess
	default:
		return StatusBlocked
	}
}

const continuationReminder = "Continue working on the task. " +
	"When the task is genuinely finished, you must call the complete_task tool " +
	"with a status and summary before stopping."

// partialContinuationPrompt builds the next-turn prompt for a partial claim.
// Open todo items take precedence over the claimed remaining_work: the agent
// must close them out before re-claiming success.
func (e *Enforcer) partialContinuationPrompt() string {
	if open := openTodos(e.todos); len(open) > 0 {
		var b strings.Builder
		b.WriteString("The task is not finished. These todo items are still open:\n")
		for _, item := range open {
			fmt.Fprintf(&b, "- %s (%s)\n", item.Content, item.Status)
		}
		b.WriteString("Finish each item and mark it completed or cancelled with write_todos, " +
			"then call complete_task again.")
		return b.String()
	}

	return fmt.Sprintf("The task is only partially complete. Remaining work:\n%s\n"+
		"Finish the remaining work, then call complete_task again.", e.claim.RemainingWork)
}

func openTodos(items []TodoItem) []TodoItem {
	var open []TodoItem
	for _, item := range items {
		if item.Open() {
			open = append(open, item)
		}
	}
	return open
}

func describeTodos(items []TodoItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.Content
	}
	return strings.Join(parts, "; ")
}
