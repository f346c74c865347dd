package folder

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions <id>",
	Short: "List group permissions for a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissions,
}

// PermissionList is a list of folder group permissions for table rendering.
type PermissionList []models.FolderGroupPermission

// Headers implements TableRenderer.
func (pl PermissionList) Headers() []string {
	return []string{"ID", "GROUP", "MODE", "ACTIVE", "DELETING", "CREATED"}
}

// Rows implements TableRenderer.
func (pl PermissionList) Rows() [][]string {
	rows := make([][]string, 0, len(pl))
	for _, p := range pl {
		group := strconv.FormatUint(uint64(p.GroupID), 10)
		if p.Group != nil {
			group = p.Group.Name
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(p.ID), 10),
			group,
			string(p.Mode),
			cmdutil.BoolToYesNo(p.IsActive),
			cmdutil.BoolToYesNo(p.DeletionInProgress),
			timeutil.FormatAge(p.CreatedAt),
		})
	}
	return rows
}

func runPermissions(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	perms, err := client.ListFolderPermissions(id)
	if err != nil {
		return fmt.Errorf("failed to list permissions for folder %d: %w", id, err)
	}

	return cmdutil.PrintOutput(os.Stdout, perms, len(perms) == 0, "No permissions found.", PermissionList(perms))
}
