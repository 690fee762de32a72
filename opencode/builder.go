package opencode

import (
	"context"
	"os"
)

// DefaultBuilder builds the command line for the stock opencode CLI.
type DefaultBuilder struct {
	// CLIPath is the path to the CLI binary (uses "opencode" in PATH if empty).
	CLIPath string
}

// CLICommand returns the agent CLI binary to spawn.
func (b DefaultBuilder) CLICommand(ctx context.Context) (string, error) {
	if b.CLIPath != "" {
		return b.CLIPath, nil
	}
	return "opencode", nil
}

// BuildArgs returns the argv for a task run.
//
// The CLI is invoked as: opencode run --print-logs [options] <prompt>
func (b DefaultBuilder) BuildArgs(ctx context.Context, cfg TaskConfig) ([]string, error) {
	args := []string{"run", "--print-logs"}

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	if cfg.SessionID != "" {
		args = append(args, "--session", cfg.SessionID)
	}

	args = append(args, cfg.Prompt)
	return args, nil
}

// BuildEnv returns the environment for a task run.
func (b DefaultBuilder) BuildEnv(ctx context.Context, taskID string) ([]string, error) {
	return append(os.Environ(), "TASKDRIVER_TASK_ID="+taskID), nil
}
