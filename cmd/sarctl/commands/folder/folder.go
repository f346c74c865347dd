// Package folder implements folder catalog commands for sarctl.
package folder

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for the folder catalog.
var Cmd = &cobra.Command{
	Use:   "folder",
	Short: "Folder catalog",
	Long: `Browse the shared folder catalog.

Examples:
  # List active folders
  sarctl folder list

  # Show one folder with its owners and validators
  sarctl folder get 12

  # Show the group permissions attached to a folder
  sarctl folder permissions 12`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(permissionsCmd)
}
