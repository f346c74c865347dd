package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/credentials"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of the connected SAR server.

This command checks the health and readiness endpoints and shows
whether the engine and its database are reachable.

Examples:
  # Check status of connected server
  sarctl status

  # Output as JSON
  sarctl status -o json`,
	RunE: runStatus,
}

// ServerStatus represents the server status for display.
type ServerStatus struct {
	Server    string `json:"server" yaml:"server"`
	Status    string `json:"status" yaml:"status"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
	Ready     bool   `json:"ready" yaml:"ready"`
	CheckedAt string `json:"checked_at,omitempty" yaml:"checked_at,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	ctx, err := store.GetCurrentContext()
	if err != nil {
		return fmt.Errorf("not logged in. Run 'sarctl login' first")
	}

	serverURL := ctx.ServerURL
	if cmdutil.Flags.ServerURL != "" {
		serverURL = cmdutil.Flags.ServerURL
	}
	if serverURL == "" {
		return fmt.Errorf("no server configured. Run 'sarctl login' first")
	}

	status := ServerStatus{
		Server:  serverURL,
		Status:  "unreachable",
		Healthy: false,
	}

	// Health endpoints are unauthenticated.
	client := apiclient.New(serverURL)

	if resp, err := client.Health(); err != nil {
		status.Error = err.Error()
	} else {
		status.Status = resp.Status
		status.Healthy = resp.Healthy()
		status.CheckedAt = timeutil.FormatTime(resp.Timestamp)
	}

	if status.Healthy {
		if resp, err := client.Ready(); err != nil {
			status.Ready = false
			status.Error = err.Error()
		} else {
			status.Ready = resp.Healthy()
			if resp.Error != "" {
				status.Error = resp.Error
			}
		}
	}

	pairs := [][2]string{
		{"Server", status.Server},
		{"Status", status.Status},
		{"Healthy", cmdutil.BoolToYesNo(status.Healthy)},
		{"Ready", cmdutil.BoolToYesNo(status.Ready)},
	}
	if status.CheckedAt != "" {
		pairs = append(pairs, [2]string{"Checked", status.CheckedAt})
	}
	if status.Error != "" {
		pairs = append(pairs, [2]string{"Error", status.Error})
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		return output.SimpleTable(os.Stdout, pairs)
	}
}
