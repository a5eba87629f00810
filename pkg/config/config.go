// Package config provides YAML-based configuration loading for wtgram.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root client configuration. It is constructed once and
// passed by reference into the components that need it; there is no
// ambient/global lookup.
type Config struct {
	// AppName optional logical name of the client application
	AppName string `mapstructure:"app_name"`

	// UserAgent reported alongside connections for diagnostics
	UserAgent string `mapstructure:"user_agent"`

	// Unstable must be set to use the session API surface at all
	Unstable bool `mapstructure:"unstable"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// TLS holds trust anchors and the explicitly insecure bypass list
	TLS TLSConfig `mapstructure:"tls"`

	// Permission holds the network access gate lists
	Permission PermissionConfig `mapstructure:"permission"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TLSConfig controls how the secure-transport client configuration is built.
type TLSConfig struct {
	// RootCAFiles are PEM files added to the trust anchor pool. Empty means
	// the system pool.
	RootCAFiles []string `mapstructure:"root_ca_files"`
	// InsecureHosts lists hosts for which certificate errors are ignored.
	// This is an explicitly insecure opt-in, intended for loopback testing.
	InsecureHosts []string `mapstructure:"insecure_hosts"`
}

// PermissionConfig drives the network permission gate.
type PermissionConfig struct {
	// AllowHosts patterns admitted by the gate; empty admits every host
	// not denied. Patterns are exact hosts or "*.suffix" wildcards.
	AllowHosts []string `mapstructure:"allow_hosts"`
	// DenyHosts patterns rejected by the gate; deny wins over allow.
	DenyHosts []string `mapstructure:"deny_hosts"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:   "wtgram-client",
		UserAgent: "wtgram",
		Unstable:  false,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/wtgram.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix WTGRAM and `.`/`-` are replaced with `_`.
// Example: WTGRAM_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WTGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("unstable", cfg.Unstable)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("tls.root_ca_files", cfg.TLS.RootCAFiles)
	v.SetDefault("tls.insecure_hosts", cfg.TLS.InsecureHosts)
	v.SetDefault("permission.allow_hosts", cfg.Permission.AllowHosts)
	v.SetDefault("permission.deny_hosts", cfg.Permission.DenyHosts)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("WTGRAM_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `wtgram`
		v.SetConfigName("wtgram")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".wtgram"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "wtgram"
	}
	for _, f := range c.TLS.RootCAFiles {
		if strings.TrimSpace(f) == "" {
			return errors.New("tls.root_ca_files contains an empty path")
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
