// Package config loads and validates the service configuration from YAML,
// with environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	MasterKey MasterKeyConfig `yaml:"master_key"`
	Authority AuthorityConfig `yaml:"authority"`
	Rotation  RotationConfig  `yaml:"rotation"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the HTTP server configuration.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains the bbolt database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MasterKeyConfig configures the active master-key version. Either Key (raw
// 32-byte hex) or Passphrase plus Salt (Argon2id derivation) must be set.
type MasterKeyConfig struct {
	ID         string `yaml:"id"`
	Key        string `yaml:"key,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Salt       string `yaml:"salt,omitempty"`
}

// AuthorityConfig selects the tax authority client.
type AuthorityConfig struct {
	Mode       string `yaml:"mode"`
	BaseURL    string `yaml:"base_url,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	TOTPSecret string `yaml:"totp_secret,omitempty"`
}

// Authority modes.
const (
	AuthorityModeSandbox = "sandbox"
	AuthorityModeHTTP    = "http"
)

// RotationConfig configures the expiry sweep.
type RotationConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
			return fmt.Errorf("server.shutdown_timeout is invalid: %w", err)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.MasterKey.ID == "" {
		return fmt.Errorf("master_key.id is required")
	}
	hasKey := c.MasterKey.Key != ""
	hasPassphrase := c.MasterKey.Passphrase != ""
	switch {
	case hasKey && hasPassphrase:
		return fmt.Errorf("master_key.key and master_key.passphrase are mutually exclusive")
	case hasKey:
		if len(c.MasterKey.Key) != 64 {
			return fmt.Errorf("master_key.key must be 64 hex characters (32 bytes)")
		}
	case hasPassphrase:
		if len(c.MasterKey.Salt) < 32 {
			return fmt.Errorf("master_key.salt must be at least 32 hex characters (16 bytes)")
		}
	default:
		return fmt.Errorf("master_key requires either key or passphrase")
	}

	switch c.Authority.Mode {
	case AuthorityModeSandbox:
	case AuthorityModeHTTP:
		if c.Authority.BaseURL == "" {
			return fmt.Errorf("authority.base_url is required when authority.mode is %q", AuthorityModeHTTP)
		}
	default:
		return fmt.Errorf("authority.mode must be %q or %q", AuthorityModeSandbox, AuthorityModeHTTP)
	}

	if c.Rotation.SweepInterval != "" {
		if _, err := time.ParseDuration(c.Rotation.SweepInterval); err != nil {
			return fmt.Errorf("rotation.sweep_interval is invalid: %w", err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// ShutdownTimeout returns the parsed shutdown timeout, defaulting to 10s.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeout == "" {
		return 10 * time.Second
	}
	d, _ := time.ParseDuration(c.Server.ShutdownTimeout)
	return d
}

// SweepInterval returns the parsed sweep interval, defaulting to daily.
func (c *Config) SweepInterval() time.Duration {
	if c.Rotation.SweepInterval == "" {
		return 24 * time.Hour
	}
	d, _ := time.ParseDuration(c.Rotation.SweepInterval)
	return d
}
