package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canopyiq/canopy-gateway/internal/adapter/inbound/stdio"
	"github.com/canopyiq/canopy-gateway/internal/config"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Run the gateway over stdin/stdout",
	Long: `Run the gateway reading line-delimited JSON-RPC requests from
stdin and writing replies to stdout. Policy enforcement, approvals, and
auditing behave exactly as over HTTP; log output goes to stderr.`,
	RunE: runStdio,
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Server.LogLevel)

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("starting stdio transport", "version", Version)
	return stdio.NewTransport(c.dispatcher, logger).Start(ctx)
}
