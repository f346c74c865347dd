// Package commands implements the CLI commands for the sarctl client.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/cmdutil"
	foldercmd "github.com/lliwi/sar-v3-sub000/cmd/sarctl/commands/folder"
	notificationcmd "github.com/lliwi/sar-v3-sub000/cmd/sarctl/commands/notification"
	requestcmd "github.com/lliwi/sar-v3-sub000/cmd/sarctl/commands/request"
	taskcmd "github.com/lliwi/sar-v3-sub000/cmd/sarctl/commands/task"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sarctl",
	Short: "SAR Control - Access request client",
	Long: `sarctl is the command-line client for the SAR access request engine.

Use this tool to submit and decide folder access requests, inspect the
task queue and resolve operator alerts through the SAR REST API.

Use "sarctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		cmdutil.Flags.Verbose, _ = cmd.Flags().GetBool("verbose")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().String("server", "", "Server URL (overrides stored credential)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides stored credential)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(requestcmd.Cmd)
	rootCmd.AddCommand(taskcmd.Cmd)
	rootCmd.AddCommand(foldercmd.Cmd)
	rootCmd.AddCommand(notificationcmd.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
