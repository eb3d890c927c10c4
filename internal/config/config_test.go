package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// reset clears viper's global state between tests.
func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canopy-gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	reset(t)
	t.Setenv("CANOPYIQ_AUTH_DEV_SECRET", "dev-secret")

	// Run from a directory with no config file; the environment alone
	// must be enough.
	t.Chdir(t.TempDir())
	InitViper("")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != "info" {
		t.Fatalf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.ApprovalTTL() != 15*time.Minute {
		t.Fatalf("approval ttl = %v", cfg.ApprovalTTL())
	}
	if cfg.SyncWait() != 0 {
		t.Fatalf("sync wait = %v", cfg.SyncWait())
	}
	if cfg.CallbackTolerance() != 300*time.Second {
		t.Fatalf("tolerance = %v", cfg.CallbackTolerance())
	}
}

func TestLoadFromFile(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:9090"
  log_level: debug
approvals:
  ttl: 30m
  sync_wait: 45s
auth:
  dev_secret: file-secret
`)
	InitViper(path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.ApprovalTTL() != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.ApprovalTTL())
	}
	if cfg.SyncWait() != 45*time.Second {
		t.Fatalf("sync_wait = %v", cfg.SyncWait())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8080"
auth:
  dev_secret: file-secret
`)
	t.Setenv("CANOPYIQ_SERVER_LISTEN_ADDR", "127.0.0.1:7070")
	t.Setenv("CANOPYIQ_REDIS_ADDR", "redis.internal:6380")
	InitViper(path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7070" {
		t.Fatalf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
server:
  log_level: verbose
auth:
  dev_secret: s
`)
	InitViper(path)
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "LogLevel") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsBadDuration(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
approvals:
  ttl: soon
auth:
  dev_secret: s
`)
	InitViper(path)
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "approvals.ttl") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRequiresAuth(t *testing.T) {
	reset(t)
	path := writeConfig(t, `
server:
  listen_addr: "127.0.0.1:8080"
`)
	InitViper(path)
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "auth") {
		t.Fatalf("err = %v", err)
	}
}
