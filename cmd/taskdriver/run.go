package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xztxy/taskdriver/opencode"
	"github.com/xztxy/taskdriver/protocol"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a task to completion",
	Long:  "Runs a task to genuine completion. The prompt is read from the argument, or from stdin when omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := resolvePrompt(args)
		if err != nil {
			return err
		}
		return driveTask(cmd.Context(), prompt, "")
	},
}

// resolvePrompt takes the prompt from the argument, falling back to stdin.
func resolvePrompt(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// driveTask starts a task and streams its events until the terminal signal.
// The first interrupt signal is forwarded to the agent; the second kills it.
func driveTask(ctx context.Context, prompt, sessionID string) error {
	sup := opencode.NewSupervisor(
		opencode.WithBuilder(opencode.DefaultBuilder{CLIPath: viper.GetString("cli_path")}),
		opencode.WithLogger(newLogger()),
		opencode.WithModel(viper.GetString("model")),
		opencode.WithWorkDir(viper.GetString("workdir")),
		opencode.WithMaxContinuationAttempts(viper.GetInt("max_attempts")),
	)
	defer sup.Dispose()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		_ = sup.InterruptTask()
		<-sigCh
		sup.CancelTask()
		// Cancel emits no terminal event; closing the event channel is what
		// lets streamEvents return.
		sup.Dispose()
	}()

	task, err := sup.StartTask(ctx, opencode.TaskConfig{Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "task %s started\n", task.ID)
	}

	return streamEvents(sup)
}

func streamEvents(sup *opencode.Supervisor) error {
	for event := range sup.Events() {
		switch e := event.(type) {
		case opencode.DebugEvent:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Kind, e.Message)
			}

		case opencode.ProgressEvent:
			if verbose {
				fmt.Fprintf(os.Stderr, "[progress] %s %s\n", e.Stage, e.Message)
			}

		case opencode.MessageEvent:
			if text, ok := e.Message.(protocol.TextMessage); ok && text.Part.Text != "" {
				fmt.Println(text.Part.Text)
			}

		case opencode.ToolUseEvent:
			fmt.Printf("[tool] %s\n", e.Name)

		case opencode.ToolResultEvent:
			if verbose && e.Output != "" {
				fmt.Fprintf(os.Stderr, "[tool result] %s\n", e.Output)
			}

		case opencode.TodoUpdateEvent:
			fmt.Println("[todos]")
			for _, item := range e.Items {
				fmt.Printf("  - [%s] %s\n", item.Status, item.Content)
			}

		case opencode.CompleteEvent:
			fmt.Printf("task finished: %s", e.Status)
			if e.SessionID != "" {
				fmt.Printf(" (session %s)", e.SessionID)
			}
			fmt.Println()
			if e.Err != nil {
				return e.Err
			}
			if e.Status != opencode.StatusSuccess {
				return fmt.Errorf("task ended with status %s", e.Status)
			}
			return nil

		case opencode.ErrorEvent:
			return fmt.Errorf("agent process failed: %w", e.Err)
		}
	}
	// The channel closed without a terminal event: the task was cancelled.
	return fmt.Errorf("task cancelled")
}
