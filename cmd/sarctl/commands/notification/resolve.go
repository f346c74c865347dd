package notification

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <fingerprint>",
	Short: "Mark a notification as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	fingerprint := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.ResolveNotification(fingerprint); err != nil {
		return fmt.Errorf("failed to resolve notification %s: %w", fingerprint, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Notification %s resolved", fingerprint))
	return nil
}
