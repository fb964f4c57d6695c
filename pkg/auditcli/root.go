// Package auditcli implements the auditctl command-line interface for the
// decision audit API.
package auditcli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var host string

	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Decision audit service CLI",
		Long:          "Command-line interface for querying and operating the policy decision audit service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Precedence: flag > env > default
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("AUDIT_HOST"); v != "" {
					host = v
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "audit service base URL")

	client := &apiClient{host: &host}
	rootCmd.AddCommand(newQueryCmd(client))
	rootCmd.AddCommand(newStatsCmd(client))
	rootCmd.AddCommand(newPurgeCmd(client))
	rootCmd.AddCommand(newExportHealthCmd(client))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "auditctl", version)
		},
	}
}
