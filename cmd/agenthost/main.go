package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenthost-dev/agenthost"
)

var rootCmd = &cobra.Command{
	Use:     "agenthost",
	Short:   "Host long-lived agent instances and dispatch calls to them",
	Version: agenthost.Version,
	Long: `agenthost runs a pool of long-lived agent instances inside one
process. Agents are created, invoked, cloned, inspected and deleted by
id; slow functions resolve later through a placeholder store polled by
task id.`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
