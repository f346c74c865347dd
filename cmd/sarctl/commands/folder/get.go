package folder

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
	"github.com/lliwi/sar-v3-sub000/internal/cli/timeutil"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one folder",
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

	f, err := client.GetFolder(id)
	if err != nil {
		return fmt.Errorf("failed to get folder %d: %w", id, err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, f)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, f)
	default:
		return output.SimpleTable(os.Stdout, folderPairs(f))
	}
}

// folderPairs renders one folder as key/value rows.
func folderPairs(f *models.Folder) [][2]string {
	pairs := [][2]string{
		{"ID", strconv.FormatUint(uint64(f.ID), 10)},
		{"Name", f.Name},
		{"Path", f.Path},
		{"Active", cmdutil.BoolToYesNo(f.IsActive)},
		{"Created", timeutil.FormatTime(f.CreatedAt)},
	}
	if f.Description != "" {
		pairs = append(pairs, [2]string{"Description", f.Description})
	}
	if len(f.Owners) > 0 {
		pairs = append(pairs, [2]string{"Owners", joinUsernames(f.Owners)})
	}
	if len(f.Validators) > 0 {
		pairs = append(pairs, [2]string{"Validators", joinUsernames(f.Validators)})
	}
	return pairs
}

func joinUsernames(users []models.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return strings.Join(names, ", ")
}

// parseID parses a numeric resource ID argument.
func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}
