// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version, set at build time.
// Example: go build -ldflags "-X github.com/varelix/qoegate/cmd.Version=1.2.0"
var Version = "0.1.0-dev"

// Commit is the git revision the binary was built from, set the same way.
var Commit = "unknown"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qoegate %s (commit %s)\n", Version, Commit)
		},
	}
}
