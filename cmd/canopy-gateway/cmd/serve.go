package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canopyiq/canopy-gateway/internal/adapter/inbound/admin"
	"github.com/canopyiq/canopy-gateway/internal/adapter/inbound/rpc"
	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/oidc"
	"github.com/canopyiq/canopy-gateway/internal/config"
	"github.com/canopyiq/canopy-gateway/internal/domain/callback"
	"github.com/canopyiq/canopy-gateway/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the gateway, serving JSON-RPC on POST /mcp, approval
callbacks, the admin API under /admin/, and health and metrics
endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Server.LogLevel)
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("configuration loaded", "file", file)
	}

	shutdownTraces, err := telemetry.Setup(ctx, "canopy-gateway", Version, cfg.Telemetry.TracesEnabled)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTraces(flushCtx)
	}()

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	verifier := oidc.NewVerifier(oidc.Config{
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		JWKSURL:   cfg.Auth.JWKSURL,
		DevSecret: cfg.Auth.DevSecret,
	}, logger)

	webhookVerifier := callback.NewWebhookVerifier(cfg.Callbacks.WebhookSecret, cfg.CallbackTolerance())
	urlVerifier := callback.NewURLVerifier(cfg.Callbacks.URLSecret, cfg.CallbackTolerance())

	adminHandler := admin.NewHandler(
		verifier,
		c.rbac,
		c.versions,
		c.rollouts,
		c.settings,
		c.resolver,
		cfg.Policy.BuiltinPath,
		logger,
	)

	handler := rpc.NewHandler(
		c.dispatcher,
		verifier,
		c.coordinator,
		c.auditor,
		webhookVerifier,
		urlVerifier,
		logger,
	)

	health := rpc.NewHealthChecker(map[string]rpc.ReadinessCheck{
		"database": c.db.PingContext,
		"redis": func(ctx context.Context) error {
			return c.rdb.Ping(ctx).Err()
		},
	})

	server := rpc.NewServer(handler,
		rpc.WithAddr(cfg.Server.ListenAddr),
		rpc.WithAdminHandler(adminHandler.Routes()),
		rpc.WithHealthChecker(health),
		rpc.WithLogger(logger),
	)

	logger.Info("starting gateway", "version", Version, "addr", cfg.Server.ListenAddr)
	return server.Start(ctx)
}
