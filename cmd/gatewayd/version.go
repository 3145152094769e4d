package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "gatewayd version %s\n", version)
		if commit != "" && commit != "unknown" {
			fmt.Fprintf(out, "commit: %s\n", commit)
		}
		if date != "" && date != "unknown" {
			fmt.Fprintf(out, "built at: %s\n", date)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func software() string {
	return "gatewayd/" + version
}
