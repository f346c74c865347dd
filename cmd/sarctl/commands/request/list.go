package request

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List access requests",
	Long: `List access requests on the SAR server.

Examples:
  # List all requests
  sarctl request list

  # List pending requests
  sarctl request list --status pending

  # List as JSON
  sarctl request list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|approved|rejected|canceled|revoked|failed)")
}

// RequestList is a list of requests for table rendering.
type RequestList []models.PermissionRequest

// Headers implements TableRenderer.
func (rl RequestList) Headers() []string {
	return []string{"ID", "FOLDER", "MODE", "STATUS", "REQUESTER", "AGE"}
}

// Rows implements TableRenderer.
func (rl RequestList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, r := range rl {
		folder := strconv.FormatUint(uint64(r.FolderID), 10)
		if r.Folder != nil {
			folder = r.Folder.Path
		}
		requester := strconv.FormatUint(uint64(r.RequesterID), 10)
		if r.Requester != nil {
			requester = r.Requester.Username
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(r.ID), 10),
			folder,
			string(r.Mode),
			string(r.Status),
			requester,
			timeutil.FormatAge(r.CreatedAt),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	reqs, err := client.ListRequests(listStatus)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, reqs, len(reqs) == 0, "No requests found.", RequestList(reqs))
}
