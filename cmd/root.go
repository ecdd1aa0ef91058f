package cmd

import (
	"fmt"
	"log"
	"os"

	"EchoFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echofm",
	Short: "EchoFM is an audio acquisition and HLS streaming service.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting EchoFM server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
