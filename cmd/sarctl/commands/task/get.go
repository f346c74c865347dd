package task

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	task, err := client.GetTask(id)
	if err != nil {
		return fmt.Errorf("failed to get task %d: %w", id, err)
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
		return output.SimpleTable(os.Stdout, taskPairs(task))
	}
}

// taskPairs renders one task as key/value rows.
func taskPairs(t *models.Task) [][2]string {
	pairs := [][2]string{
		{"ID", strconv.FormatUint(uint64(t.ID), 10)},
		{"Name", t.Name},
		{"Kind", string(t.Kind)},
		{"Status", string(t.Status)},
		{"Attempts", fmt.Sprintf("%d/%d", t.AttemptCount, t.MaxAttempts)},
		{"Created", timeutil.FormatTime(t.CreatedAt)},
	}
	if t.RequestID != nil {
		pairs = append(pairs, [2]string{"Request", strconv.FormatUint(uint64(*t.RequestID), 10)})
	}
	if t.NextExecutionAt != nil {
		pairs = append(pairs, [2]string{"Next execution", timeutil.FormatTime(*t.NextExecutionAt)})
	}
	if t.StartedAt != nil {
		pairs = append(pairs, [2]string{"Started", timeutil.FormatTime(*t.StartedAt)})
	}
	if t.CompletedAt != nil {
		pairs = append(pairs, [2]string{"Completed", timeutil.FormatTime(*t.CompletedAt)})
	}
	if t.LastError != "" {
		pairs = append(pairs, [2]string{"Last error", t.LastError})
	}
	return pairs
}

// parseID parses a numeric resource ID argument.
func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}
