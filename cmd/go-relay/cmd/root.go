package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configName string

var rootCmd = &cobra.Command{
	Use:   "go-relay",
	Short: "Real-time group chat relay",
	Long: `go-relay relays chat messages between websocket clients.

Available commands:
  serve      Start the relay server
  version    Print the build version

Use "go-relay [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "config", "config file base name, looked up in the working directory")
}
