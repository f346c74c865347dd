package task

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List engine tasks",
	Long: `List tasks in the engine queue.

Examples:
  # List recent tasks
  sarctl task list

  # List failed tasks
  sarctl task list --status failed

  # List more than the default window
  sarctl task list --limit 500`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|running|completed|failed|retry|cancelled)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks (server default when 0)")
}

// TaskList is a list of tasks for table rendering.
type TaskList []models.Task

// Headers implements TableRenderer.
func (tl TaskList) Headers() []string {
	return []string{"ID", "KIND", "STATUS", "ATTEMPTS", "REQUEST", "ERROR", "AGE"}
}

// Rows implements TableRenderer.
func (tl TaskList) Rows() [][]string {
	rows := make([][]string, 0, len(tl))
	for _, t := range tl {
		request := "-"
		if t.RequestID != nil {
			request = strconv.FormatUint(uint64(*t.RequestID), 10)
		}
		lastError := t.LastError
		if len(lastError) > 60 {
			lastError = lastError[:57] + "..."
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(t.ID), 10),
			string(t.Kind),
			string(t.Status),
			fmt.Sprintf("%d/%d", t.AttemptCount, t.MaxAttempts),
			request,
			cmdutil.EmptyOr(lastError, "-"),
			timeutil.FormatAge(t.CreatedAt),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	tasks, err := client.ListTasks(listStatus, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, tasks, len(tasks) == 0, "No tasks found.", TaskList(tasks))
}
