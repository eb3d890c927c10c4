// Package cmd provides the CLI commands for the canopy gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canopyiq/canopy-gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "canopy-gateway",
	Short: "CanopyIQ Gateway - policy-mediated tool-call gateway",
	Long: `CanopyIQ Gateway mediates AI agent tool calls through signed,
versioned policy bundles with staged rollout, human-in-the-loop
approvals, and a hash-chained audit log.

Quick start:
  1. Create a config file: canopy-gateway.yaml
  2. Run: canopy-gateway serve

Configuration:
  Config is loaded from canopy-gateway.yaml in the current directory
  or /etc/canopy-gateway/.

  Environment variables can override config values with the CANOPYIQ_
  prefix. Example: CANOPYIQ_SERVER_LISTEN_ADDR=:9090

Commands:
  serve       Start the HTTP gateway
  stdio       Run the gateway over stdin/stdout
  policy      Generate keys, sign and verify policy bundles
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./canopy-gateway.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
