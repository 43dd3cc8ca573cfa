// Package config loads paxd configuration: TOML file first, then PAXD_*
// environment overrides on top. A missing config file is not an error; every
// field has a working default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// envPrefix is the prefix for environment overrides.
const envPrefix = "PAXD_"

// Config is the full paxd configuration.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Extensions Extensions `toml:"extensions"`
	Logging    Logging    `toml:"logging"`
}

// Paths configures where paxd keeps its state.
type Paths struct {
	// Root is the paxd home directory. Extension and data dirs default to
	// subdirectories of it.
	Root string `toml:"root"`

	// ExtensionsDir overrides the extension store location.
	ExtensionsDir string `toml:"extensions_dir"`

	// DataDir overrides the per-extension data root.
	DataDir string `toml:"data_dir"`
}

// Extensions configures the trigger dispatch engine.
type Extensions struct {
	// HandlerTimeout is the per-handler time budget.
	HandlerTimeout time.Duration `toml:"handler_timeout"`

	// Audit enables the activity log and stats counters.
	Audit bool `toml:"audit"`

	// AuditDir overrides where activity.log and stats.json live.
	AuditDir string `toml:"audit_dir"`
}

// Logging configures the structured logger.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	root := defaultRoot()
	return Config{
		Paths: Paths{
			Root: root,
		},
		Extensions: Extensions{
			HandlerTimeout: 5 * time.Second,
			Audit:          true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

func defaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".paxd")
	}
	return ".paxd"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultRoot(), "config.toml")
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.fillDerived()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays PAXD_* environment variables. Empty values count as
// set, matching how env overrides usually behave.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(envPrefix + "ROOT"); ok {
		cfg.Paths.Root = v
	}
	if v, ok := os.LookupEnv(envPrefix + "EXTENSIONS_DIR"); ok {
		cfg.Paths.ExtensionsDir = v
	}
	if v, ok := os.LookupEnv(envPrefix + "DATA_DIR"); ok {
		cfg.Paths.DataDir = v
	}
	if v, ok := os.LookupEnv(envPrefix + "HANDLER_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extensions.HandlerTimeout = d
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "AUDIT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Extensions.Audit = b
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}

// fillDerived resolves the path fields that default to Root subdirectories.
func (c *Config) fillDerived() {
	if c.Paths.ExtensionsDir == "" {
		c.Paths.ExtensionsDir = filepath.Join(c.Paths.Root, "extensions")
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = filepath.Join(c.Paths.Root, "data")
	}
	if c.Extensions.AuditDir == "" {
		c.Extensions.AuditDir = c.Paths.Root
	}
}

func (c *Config) validate() error {
	if c.Extensions.HandlerTimeout <= 0 {
		return fmt.Errorf("extensions.handler_timeout must be positive, got %s", c.Extensions.HandlerTimeout)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
