package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, canopy-gateway.yaml is searched in
// the working directory and /etc/canopy-gateway.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("canopy-gateway")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/canopy-gateway")
	}

	// Environment variable support: CANOPYIQ_SERVER_LISTEN_ADDR etc.
	viper.SetEnvPrefix("CANOPYIQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// bindNestedEnvKeys binds every config key so nested values can be
// overridden from the environment.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.listen_addr",
		"server.log_level",
		"database.path",
		"database.versions_dir",
		"policy.builtin_path",
		"policy.require_signature",
		"policy.pubkey_b64",
		"redis.addr",
		"redis.password",
		"redis.db",
		"approvals.ttl",
		"approvals.sync_wait",
		"approvals.slack_webhook_url",
		"callbacks.webhook_secret",
		"callbacks.url_secret",
		"callbacks.tolerance",
		"auth.jwks_url",
		"auth.issuer",
		"auth.audience",
		"auth.dev_secret",
		"telemetry.traces_enabled",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, and validates the result. A missing config file is not an
// error; the environment alone can configure the gateway.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, empty when
// running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
