package request

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
	Short: "Show one access request",
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

	req, err := client.GetRequest(id)
	if err != nil {
		return fmt.Errorf("failed to get request %d: %w", id, err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, req)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, req)
	default:
		return output.SimpleTable(os.Stdout, requestPairs(req))
	}
}

// requestPairs renders one request as key/value rows.
func requestPairs(r *models.PermissionRequest) [][2]string {
	folder := strconv.FormatUint(uint64(r.FolderID), 10)
	if r.Folder != nil {
		folder = r.Folder.Path
	}
	requester := strconv.FormatUint(uint64(r.RequesterID), 10)
	if r.Requester != nil {
		requester = r.Requester.Username
	}

	pairs := [][2]string{
		{"ID", strconv.FormatUint(uint64(r.ID), 10)},
		{"Folder", folder},
		{"Mode", string(r.Mode)},
		{"Status", string(r.Status)},
		{"Requester", requester},
		{"Business need", cmdutil.EmptyOr(r.BusinessNeed, "-")},
		{"Created", timeutil.FormatTime(r.CreatedAt)},
	}
	if r.Validator != nil {
		pairs = append(pairs, [2]string{"Validator", r.Validator.Username})
	}
	if r.ValidationComment != "" {
		pairs = append(pairs, [2]string{"Decision comment", r.ValidationComment})
	}
	if r.ValidatedAt != nil {
		pairs = append(pairs, [2]string{"Decided", timeutil.FormatTime(*r.ValidatedAt)})
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
