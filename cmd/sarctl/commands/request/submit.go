package request

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	"github.com/lliwi/sar-v3-sub000/internal/cli/output"
	"github.com/lliwi/sar-v3-sub000/pkg/apiclient"
)

var (
	submitFolder    uint
	submitMode      string
	submitNeed      string
	submitValidator uint
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an access request",
	Long: `Submit a folder access request.

Examples:
  # Request read access on folder 10
  sarctl request submit --folder 10 --mode read --need "quarterly reporting"

  # Request write access and name a validator
  sarctl request submit --folder 10 --mode write --need "ETL output" --validator 7`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().UintVar(&submitFolder, "folder", 0, "Folder ID (required)")
	submitCmd.Flags().StringVar(&submitMode, "mode", "read", "Access mode (read|write)")
	submitCmd.Flags().StringVar(&submitNeed, "need", "", "Business need justification")
	submitCmd.Flags().UintVar(&submitValidator, "validator", 0, "Preferred validator user ID")
	_ = submitCmd.MarkFlagRequired("folder")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	req := apiclient.SubmitRequest{
		FolderID:     submitFolder,
		Mode:         submitMode,
		BusinessNeed: submitNeed,
	}
	if submitValidator != 0 {
		v := submitValidator
		req.ValidatorID = &v
	}

	result, err := client.Submit(req)
	if err != nil {
		return fmt.Errorf("failed to submit request: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, result)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, result)
	default:
		cmdutil.PrintSuccess(fmt.Sprintf("Request %d submitted (%s)", result.Request.ID, result.Class))
		return output.SimpleTable(os.Stdout, requestPairs(result.Request))
	}
}
