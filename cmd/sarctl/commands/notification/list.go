package notification

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin notifications",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include resolved notifications")
}

// NotificationList is a list of admin notifications for table rendering.
type NotificationList []models.AdminNotification

// Headers implements TableRenderer.
func (nl NotificationList) Headers() []string {
	return []string{"FINGERPRINT", "TYPE", "SERVICE", "COUNT", "LAST", "RESOLVED"}
}

// Rows implements TableRenderer.
func (nl NotificationList) Rows() [][]string {
	rows := make([][]string, 0, len(nl))
	for _, n := range nl {
		fingerprint := n.Fingerprint
		if len(fingerprint) > 12 {
			fingerprint = fingerprint[:12]
		}
		rows = append(rows, []string{
			fingerprint,
			n.ErrorType,
			n.ServiceName,
			strconv.Itoa(n.Count),
			timeutil.FormatAge(n.LastOccurrence),
			cmdutil.BoolToYesNo(n.Resolved),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	notifications, err := client.ListNotifications(listAll)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, notifications, len(notifications) == 0, "No notifications found.", NotificationList(notifications))
}
