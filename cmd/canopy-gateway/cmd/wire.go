package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/chat"
	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/redisstore"
	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/sqlstore"
	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/tools"
	"github.com/canopyiq/canopy-gateway/internal/config"
	"github.com/canopyiq/canopy-gateway/internal/domain/bundle"
	"github.com/canopyiq/canopy-gateway/internal/domain/policy"
	"github.com/canopyiq/canopy-gateway/internal/domain/tool"
	"github.com/canopyiq/canopy-gateway/internal/service"
)

// core holds the wired components shared by the serve and stdio commands.
type core struct {
	db          *sql.DB
	rdb         *redis.Client
	versions    *sqlstore.VersionStore
	rollouts    *sqlstore.RolloutStore
	settings    *sqlstore.SettingsStore
	coordinator *redisstore.Coordinator
	rbac        *redisstore.RBACStore
	resolver    *service.RolloutResolver
	auditor     *service.AuditService
	dispatcher  *service.Dispatcher
}

// Close releases the database and Redis connections.
func (c *core) Close() {
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// buildCore opens the stores and assembles the dispatch pipeline.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	db, err := sqlstore.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	versions := sqlstore.NewVersionStore(db, cfg.Database.VersionsDir)
	rollouts := sqlstore.NewRolloutStore(db)
	settings := sqlstore.NewSettingsStore(db)
	auditor := service.NewAuditService(sqlstore.NewAuditStore(db), logger)
	coordinator := redisstore.NewCoordinator(rdb)
	rbac := redisstore.NewRBACStore(rdb)
	resolver := service.NewRolloutResolver(versions, rollouts, cfg.Policy.BuiltinPath, logger)

	registry := tool.NewRegistry()
	tools.Register(registry)

	fallback, err := loadFallbackEngine(cfg, logger)
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, err
	}

	notifier := chat.NewNotifier(cfg.Approvals.SlackWebhookURL, logger)

	dispatcher := service.NewDispatcher(
		registry,
		resolver,
		coordinator,
		notifier,
		auditor,
		fallback,
		service.DispatcherConfig{
			ApprovalTTL: cfg.ApprovalTTL(),
			SyncWait:    cfg.SyncWait(),
		},
		logger,
	)

	return &core{
		db:          db,
		rdb:         rdb,
		versions:    versions,
		rollouts:    rollouts,
		settings:    settings,
		coordinator: coordinator,
		rbac:        rbac,
		resolver:    resolver,
		auditor:     auditor,
		dispatcher:  dispatcher,
	}, nil
}

// loadFallbackEngine parses the builtin bundle used when no registered
// policy version resolves. An unreadable builtin degrades to deny-all
// rather than failing startup, unless signature enforcement is on.
func loadFallbackEngine(cfg *config.Config, logger *slog.Logger) (*policy.Engine, error) {
	path := cfg.Policy.BuiltinPath

	if cfg.Policy.RequireSignature {
		if err := bundle.Verify(path, path+".sig", cfg.Policy.PubkeyB64); err != nil {
			return nil, fmt.Errorf("builtin bundle signature: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if cfg.Policy.RequireSignature {
			return nil, fmt.Errorf("read builtin bundle: %w", err)
		}
		logger.Warn("builtin bundle unreadable, falling back to deny-all", "path", path, "error", err)
		return policy.NewEngine(&policy.Bundle{}), nil
	}

	b, err := policy.ParseBundle(data)
	if err != nil {
		if cfg.Policy.RequireSignature {
			return nil, fmt.Errorf("parse builtin bundle: %w", err)
		}
		logger.Warn("builtin bundle invalid, falling back to deny-all", "path", path, "error", err)
		return policy.NewEngine(&policy.Bundle{}), nil
	}
	return policy.NewEngine(b), nil
}

// newLogger builds the process logger writing to stderr so stdout stays
// free for the stdio transport.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
