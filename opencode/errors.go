package opencode

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrDisposed        = errors.New("supervisor is disposed")
	ErrNoActiveProcess = errors.New("no active agent process")
)

// ProcessError represents a process-level error.
type ProcessError struct {
	Cause    error
	Message  string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// CLINotFoundError indicates the agent CLI binary was not found.
type CLINotFoundError struct {
	Cause error
	Path  string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("agent CLI not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error {
	return e.Cause
}
