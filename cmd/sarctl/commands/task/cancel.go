package task

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or retrying task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Cancellation reason")
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	task, err := client.CancelTask(id, cancelReason)
	if err != nil {
		return fmt.Errorf("failed to cancel task %d: %w", id, err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, task)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, task)
	default:
		cmdutil.PrintSuccess(fmt.Sprintf("Task %d cancelled", task.ID))
		return output.SimpleTable(os.Stdout, taskPairs(task))
	}
}
