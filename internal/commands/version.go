package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the launcher version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "launcher %s (%s/%s)\n", AppVersion, runtime.GOOS, runtime.GOARCH)
	},
}
