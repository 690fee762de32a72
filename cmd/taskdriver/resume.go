package main

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id> <prompt>",
	Short: "Resume a prior session with a follow-up prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return driveTask(cmd.Context(), args[1], args[0])
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
