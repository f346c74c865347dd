package request

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// newDecisionCmd builds one of the approve/reject/cancel/revoke commands.
// They differ only in the endpoint they hit.
func newDecisionCmd(verb, short string) *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			client, err := cmdutil.GetAuthenticatedClient()
			if err != nil {
				return err
			}

			var req *models.PermissionRequest
			switch verb {
			case "approve":
				req, err = client.ApproveRequest(id, comment)
			case "reject":
				req, err = client.RejectRequest(id, comment)
			case "cancel":
				req, err = client.CancelRequest(id, comment)
			case "revoke":
				req, err = client.RevokeRequest(id, comment)
			}
			if err != nil {
				return fmt.Errorf("failed to %s request %d: %w", verb, id, err)
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
				cmdutil.PrintSuccess(fmt.Sprintf("Request %d is now %s", req.ID, req.Status))
				return output.SimpleTable(os.Stdout, requestPairs(req))
			}
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "Decision comment")
	return cmd
}
