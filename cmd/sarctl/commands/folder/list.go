package folder

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders",
	RunE:  runList,
}

// FolderList is a list of folders for table rendering.
type FolderList []models.Folder

// Headers implements TableRenderer.
func (fl FolderList) Headers() []string {
	return []string{"ID", "NAME", "PATH", "ACTIVE", "OWNERS", "VALIDATORS"}
}

// Rows implements TableRenderer.
func (fl FolderList) Rows() [][]string {
	rows := make([][]string, 0, len(fl))
	for _, f := range fl {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(f.ID), 10),
			f.Name,
			f.Path,
			cmdutil.BoolToYesNo(f.IsActive),
			strconv.Itoa(len(f.Owners)),
			strconv.Itoa(len(f.Validators)),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	folders, err := client.ListFolders()
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, folders, len(folders) == 0, "No folders found.", FolderList(folders))
}
