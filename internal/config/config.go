// Package config provides configuration loading for the canopy gateway.
package config

import (
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the sqlite store and the bundle directory.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Policy configures bundle loading.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Redis configures the approval coordinator and RBAC store.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Approvals configures pending-approval lifecycle and notification.
	Approvals ApprovalsConfig `yaml:"approvals" mapstructure:"approvals"`

	// Callbacks configures callback signature verification.
	Callbacks CallbacksConfig `yaml:"callbacks" mapstructure:"callbacks"`

	// Auth configures bearer token verification.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address. Default "127.0.0.1:8080".
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"required,hostname_port"`
	// LogLevel is one of debug, info, warn, error. Default "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	// Path is the sqlite database file. Default "canopy.db".
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
	// VersionsDir is where verified bundle copies are stored.
	// Default "policy-versions".
	VersionsDir string `yaml:"versions_dir" mapstructure:"versions_dir" validate:"required"`
}

// PolicyConfig configures bundle loading.
type PolicyConfig struct {
	// BuiltinPath is the bundle served under the __builtin__ version.
	// Default "policies/builtin.yaml".
	BuiltinPath string `yaml:"builtin_path" mapstructure:"builtin_path" validate:"required"`
	// RequireSignature makes startup fail on an unsigned builtin bundle
	// instead of warning. policy/apply always requires a valid signature.
	RequireSignature bool `yaml:"require_signature" mapstructure:"require_signature"`
	// PubkeyB64 is the Ed25519 public key used when RequireSignature is set.
	PubkeyB64 string `yaml:"pubkey_b64" mapstructure:"pubkey_b64" validate:"required_with=RequireSignature"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	// Addr is the host:port of the Redis server. Default "127.0.0.1:6379".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	// Password is optional.
	Password string `yaml:"password" mapstructure:"password"`
	// DB selects the logical database. Default 0.
	DB int `yaml:"db" mapstructure:"db" validate:"gte=0"`
}

// ApprovalsConfig configures pending approvals.
type ApprovalsConfig struct {
	// TTL bounds how long an undecided approval survives, as a Go
	// duration string. Default "15m".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"required"`
	// SyncWait, when non-zero, makes tools/call block on pending approvals
	// for up to this long. Default "0s" (return the pending id at once).
	SyncWait string `yaml:"sync_wait" mapstructure:"sync_wait" validate:"required"`
	// SlackWebhookURL receives the approve/deny message. Empty disables
	// chat notification.
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url" validate:"omitempty,url"`
}

// CallbacksConfig configures callback verification secrets.
type CallbacksConfig struct {
	// WebhookSecret signs chat webhook callbacks. Empty rejects them all.
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	// URLSecret signs approval URLs. Empty rejects them all.
	URLSecret string `yaml:"url_secret" mapstructure:"url_secret"`
	// Tolerance is the accepted timestamp skew. Default "300s".
	Tolerance string `yaml:"tolerance" mapstructure:"tolerance" validate:"required"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// JWKSURL serves the RS256 signing keys. Empty disables the RS256 path.
	JWKSURL string `yaml:"jwks_url" mapstructure:"jwks_url" validate:"omitempty,url"`
	// Issuer is enforced on RS256 tokens when set.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
	// Audience is enforced on RS256 tokens when set.
	Audience string `yaml:"audience" mapstructure:"audience"`
	// DevSecret verifies HS256 tokens as a development fallback.
	DevSecret string `yaml:"dev_secret" mapstructure:"dev_secret"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// TracesEnabled turns on the stdout trace exporter.
	TracesEnabled bool `yaml:"traces_enabled" mapstructure:"traces_enabled"`
}

// SetDefaults fills in default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "canopy.db"
	}
	if c.Database.VersionsDir == "" {
		c.Database.VersionsDir = "policy-versions"
	}
	if c.Policy.BuiltinPath == "" {
		c.Policy.BuiltinPath = "policies/builtin.yaml"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Approvals.TTL == "" {
		c.Approvals.TTL = "15m"
	}
	if c.Approvals.SyncWait == "" {
		c.Approvals.SyncWait = "0s"
	}
	if c.Callbacks.Tolerance == "" {
		c.Callbacks.Tolerance = "300s"
	}
}

// ApprovalTTL returns the parsed approval TTL.
func (c *Config) ApprovalTTL() time.Duration {
	return parseDuration(c.Approvals.TTL, 15*time.Minute)
}

// SyncWait returns the parsed synchronous wait, zero when disabled.
func (c *Config) SyncWait() time.Duration {
	return parseDuration(c.Approvals.SyncWait, 0)
}

// CallbackTolerance returns the parsed timestamp tolerance.
func (c *Config) CallbackTolerance() time.Duration {
	return parseDuration(c.Callbacks.Tolerance, 300*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
