// gatewayd runs CGI and WSGI-style scripts behind an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "gatewayd",
	Short:         "Run CGI scripts behind an HTTP server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
