package task

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
)

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reschedule a failed or cancelled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	task, err := client.RetryTask(id)
	if err != nil {
		return fmt.Errorf("failed to retry task %d: %w", id, err)
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
		cmdutil.PrintSuccess(fmt.Sprintf("Task %d rescheduled", task.ID))
		return output.SimpleTable(os.Stdout, taskPairs(task))
	}
}
