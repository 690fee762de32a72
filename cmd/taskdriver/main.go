// Command taskdriver runs an autonomous coding-agent CLI to genuine
// completion: it supervises the agent subprocess, re-prompts it when it
// stops early, and only reports success once the agent's own completion
// claim and checklist agree the work is done.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "taskdriver",
	Short: "Drive a coding agent to genuine completion",
	Long: `Taskdriver wraps an opencode-style coding agent CLI. It parses the
agent's JSON output stream, tracks its todo checklist, and automatically
re-prompts the agent when it stops without finishing, up to a bounded
number of continuation attempts.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("model", "", "Model passed to the agent CLI")
	rootCmd.PersistentFlags().String("workdir", "", "Working directory for the agent (default: current directory)")
	rootCmd.PersistentFlags().String("cli-path", "", "Path to the agent CLI binary (default: opencode in PATH)")
	rootCmd.PersistentFlags().Int("max-attempts", 0, "Continuation attempt budget (default: 20)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("workdir", rootCmd.PersistentFlags().Lookup("workdir"))
	_ = viper.BindPFlag("cli_path", rootCmd.PersistentFlags().Lookup("cli-path"))
	_ = viper.BindPFlag("max_attempts", rootCmd.PersistentFlags().Lookup("max-attempts"))
}

func initConfig() {
	viper.SetConfigName("taskdriver")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.config/taskdriver")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKDRIVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file is optional.
	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
