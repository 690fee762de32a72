package opencode

import (
	"context"
	"log/slog"
)

// nopHandler is a slog.Handler that discards all output.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

// nopLogger is a shared no-op logger instance.
var nopLogger = slog.New(nopHandler{})

// TaskConfig describes one task run.
type TaskConfig struct {
	// Prompt is the user request (or continuation prompt) for this run.
	Prompt string
	// SessionID resumes a prior conversation when non-empty.
	SessionID string
	// Model overrides the supervisor's default model when non-empty.
	Model string
	// WorkDir overrides the supervisor's default working directory.
	WorkDir string
}

// CommandBuilder constructs the command line and environment for the agent
// subprocess. Implementations live outside this package (per-provider config
// generation); the supervisor treats their outputs opaquely.
type CommandBuilder interface {
	// CLICommand returns the agent CLI binary to spawn.
	CLICommand(ctx context.Context) (string, error)
	// BuildArgs returns the argv (excluding the binary) for a task run.
	BuildArgs(ctx context.Context, cfg TaskConfig) ([]string, error)
	// BuildEnv returns the environment for a task run, or nil to inherit.
	BuildEnv(ctx context.Context, taskID string) ([]string, error)
}

// Config holds supervisor configuration.
type Config struct {
	// Builder constructs the subprocess command line and environment.
	Builder CommandBuilder

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger

	// Model is the default model passed to the builder.
	Model string

	// WorkDir is the default working directory for task runs.
	WorkDir string

	// MaxContinuationAttempts bounds automatic re-prompting per task run.
	MaxContinuationAttempts int

	// EventBufferSize is the event channel buffer size (default: 256).
	EventBufferSize int
}

// Option is a functional option for configuring a Supervisor.
type Option func(*Config)

// WithBuilder sets the command builder.
func WithBuilder(b CommandBuilder) Option {
	return func(c *Config) { c.Builder = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithWorkDir sets the default working directory.
func WithWorkDir(dir string) Option {
	return func(c *Config) { c.WorkDir = dir }
}

// WithMaxContinuationAttempts bounds automatic re-prompting per task run.
func WithMaxContinuationAttempts(n int) Option {
	return func(c *Config) { c.MaxContinuationAttempts = n }
}

// WithEventBufferSize sets the event channel buffer size.
func WithEventBufferSize(size int) Option {
	return func(c *Config) { c.EventBufferSize = size }
}

func defaultConfig() Config {
	return Config{
		Builder:                 DefaultBuilder{},
		Logger:                  nopLogger,
		MaxContinuationAttempts: DefaultMaxContinuationAttempts,
		EventBufferSize:         256,
	}
}
