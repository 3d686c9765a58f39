// Package config loads the crashspool configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Spool   SpoolConfig   `yaml:"spool"`
	Logging LoggingConfig `yaml:"logging"`
}

// SpoolConfig configures the problem-directory spool.
type SpoolConfig struct {
	// Root is the directory holding one subdirectory per problem.
	Root string `yaml:"root"`

	// OwnerUser is the account that owns sanitised problem directories.
	OwnerUser string `yaml:"owner_user"`

	// Mode is the octal item mode for created directories, e.g. "0640".
	Mode string `yaml:"mode"`

	// Policy selects who may read a non-world-readable problem directory:
	// "owner" (the owning uid) or "group" (members of the owning group).
	Policy string `yaml:"policy"`
}

type LoggingConfig struct {
	// Level: debug, info, warn or error.
	Level string `yaml:"level"`

	// Format: text or json.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(b)
}

// LoadFromBytes parses configuration from bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Spool.Root == "" {
		cfg.Spool.Root = "/var/spool/crashspool"
	}
	if cfg.Spool.OwnerUser == "" {
		cfg.Spool.OwnerUser = "crashspool"
	}
	if cfg.Spool.Mode == "" {
		cfg.Spool.Mode = "0640"
	}
	if cfg.Spool.Policy == "" {
		cfg.Spool.Policy = "owner"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.FileMode(); err != nil {
		return err
	}
	switch cfg.Spool.Policy {
	case "owner", "group":
	default:
		return fmt.Errorf("spool.policy: unknown policy %q", cfg.Spool.Policy)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}
	return nil
}

// FileMode parses the configured octal item mode.
func (c *Config) FileMode() (os.FileMode, error) {
	n, err := strconv.ParseUint(c.Spool.Mode, 8, 32)
	if err != nil || n&^0o777 != 0 {
		return 0, fmt.Errorf("spool.mode: invalid mode %q", c.Spool.Mode)
	}
	return os.FileMode(n), nil
}
