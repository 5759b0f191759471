package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment
// variable overrides. Secrets are expected to arrive this way in production.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if addr := os.Getenv("FATOORA_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if dbPath := os.Getenv("FATOORA_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if key := os.Getenv("FATOORA_MASTER_KEY"); key != "" {
		cfg.MasterKey.Key = key
		cfg.MasterKey.Passphrase = ""
	}
	if passphrase := os.Getenv("FATOORA_MASTER_PASSPHRASE"); passphrase != "" {
		cfg.MasterKey.Passphrase = passphrase
		cfg.MasterKey.Key = ""
	}
	if salt := os.Getenv("FATOORA_MASTER_SALT"); salt != "" {
		cfg.MasterKey.Salt = salt
	}
	if baseURL := os.Getenv("FATOORA_AUTHORITY_URL"); baseURL != "" {
		cfg.Authority.BaseURL = baseURL
	}
	if apiKey := os.Getenv("FATOORA_AUTHORITY_API_KEY"); apiKey != "" {
		cfg.Authority.APIKey = apiKey
	}
	if secret := os.Getenv("FATOORA_AUTHORITY_TOTP_SECRET"); secret != "" {
		cfg.Authority.TOTPSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Authority.Mode == "" {
		cfg.Authority.Mode = AuthorityModeSandbox
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
