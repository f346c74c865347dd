// Package request implements access request commands for sarctl.
package request

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for access requests.
var Cmd = &cobra.Command{
	Use:   "request",
	Short: "Access request management",
	Long: `Submit and decide folder access requests.

Examples:
  # List pending requests
  sarctl request list --status pending

  # Submit a read request for folder 10
  sarctl request submit --folder 10 --mode read --need "quarterly reporting"

  # Approve request 42
  sarctl request approve 42 --comment "owner confirmed"

  # Revoke a granted request
  sarctl request revoke 42 --comment "left the project"`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(submitCmd)
	Cmd.AddCommand(newDecisionCmd("approve", "Approve a pending request"))
	Cmd.AddCommand(newDecisionCmd("reject", "Reject a pending request"))
	Cmd.AddCommand(newDecisionCmd("cancel", "Cancel a pending request"))
	Cmd.AddCommand(newDecisionCmd("revoke", "Revoke a granted request"))
}
