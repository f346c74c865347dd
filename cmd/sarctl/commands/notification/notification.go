// Package notification implements admin notification commands for sarctl.
package notification

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for admin notifications.
var Cmd = &cobra.Command{
	Use:   "notification",
	Short: "Admin notifications",
	Long: `List and resolve aggregated error notifications.

These operations require admin privileges.

Examples:
  # List unresolved notifications
  sarctl notification list

  # Include resolved ones
  sarctl notification list --all

  # Mark a notification as resolved
  sarctl notification resolve a1b2c3d4`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(resolveCmd)
}
