package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0" // overridden at build time with -ldflags

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of go-relay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "go-relay v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
