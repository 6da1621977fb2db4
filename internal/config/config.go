// Package config provides configuration management for the CaseVault
// protection core.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.casevault).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".casevault"), nil
}

// DefaultConfigPath returns the default config file path
// (~/.casevault/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Config holds the protection core's configuration.
type Config struct {
	// DataDir is where the license record and abuse database live.
	// Defaults to the config directory when empty.
	DataDir string `yaml:"data_dir,omitempty"`

	// LicensePublicKey overrides the embedded license verification key
	// (PEM-encoded RSA public key).
	LicensePublicKey string `yaml:"license_public_key,omitempty"`

	// ProbeHost is the hostname resolved by the connectivity check.
	ProbeHost string `yaml:"probe_host,omitempty"`

	// RevalidationHours is how stale an offline validation may be before
	// an online re-check is attempted. Defaults to 24.
	RevalidationHours int `yaml:"revalidation_hours,omitempty"`

	// GracePeriodDays is the offline grace window. Defaults to 7.
	GracePeriodDays int `yaml:"grace_period_days,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty"`
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.RevalidationHours < 0 {
		return errors.New("revalidation_hours must not be negative")
	}
	if c.GracePeriodDays < 0 {
		return errors.New("grace_period_days must not be negative")
	}
	return nil
}

// ResolveDataDir returns the effective data directory.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return DefaultConfigDir()
}

// Load reads the configuration from the given path. A missing file yields
// an empty config rather than an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
