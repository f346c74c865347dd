// Package task implements task queue commands for sarctl.
package task

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for task queue management.
var Cmd = &cobra.Command{
	Use:   "task",
	Short: "Task queue management",
	Long: `Inspect and control the engine task queue.

These operations require admin privileges.

Examples:
  # List failed tasks
  sarctl task list --status failed

  # Cancel a stuck task
  sarctl task cancel 7 --reason "stale workflow run"

  # Reschedule a failed task
  sarctl task retry 7`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(retryCmd)
}
