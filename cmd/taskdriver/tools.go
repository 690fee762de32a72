package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xztxy/taskdriver/opencode"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the reserved tool definitions as JSON",
	Long: `Prints the complete_task and write_todos tool definitions, with input
schemas generated from the typed argument structs. Feed the output to
per-provider agent configuration so the agent can self-report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(opencode.ReservedTools()); err != nil {
			return fmt.Errorf("encode tool definitions: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
