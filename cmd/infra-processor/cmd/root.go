package cmd

import (
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "infra-processor",
	Short: "Command engine for cloud node lifecycle orchestration",
	Long: `infra-processor accepts batches of infrastructure commands
(create-infrastructure, create-node, drop-node, drop-infrastructure),
resolves abstract node descriptions against backend definitions, starts
nodes on the configured cloud backend, and blocks until they pass their
health checks. Batches run sequentially or in parallel with compensating
teardown for nodes that fail halfway through creation.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches /etc/infra-processor, $HOME/.infra-processor, .)")
}
