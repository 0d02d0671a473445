package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via
// -ldflags "-X phpx/internal/cli.buildVersion=...".
var buildVersion = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the phpx version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "phpx %s %s/%s\n", buildVersion, runtime.GOOS, runtime.GOARCH)
		},
	}
}
