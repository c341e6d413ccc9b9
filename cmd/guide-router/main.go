// Command guide-router serves the tutoring event router over WebSocket and
// hosts its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "guide-router",
	Short: "guide-router routes learner events to rule-based tutors.",
	Long: `guide-router accepts learner activity events over WebSocket, builds the
rules for each event from the group's concept sheets and sends tutor
actions back to the client.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addServeFlags(rootCmd)
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, seedGroupsCmd, hashTokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
