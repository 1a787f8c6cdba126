// Package config loads the reconf application configuration.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/reconf-refind/reconf/internal/logger"
)

// Config is the top-level reconf configuration.
type Config struct {
	// Plugins configures the plugin engine.
	Plugins PluginsConfig `json:"plugins" mapstructure:"plugins"`

	// Logging configures the application logger.
	Logging logger.Config `json:"logging" mapstructure:"logging"`
}

// PluginsConfig configures plugin discovery and lifecycle behavior.
type PluginsConfig struct {
	// BuiltinDir is the directory of plugins bundled with the application.
	BuiltinDir string `json:"builtin_dir" mapstructure:"builtin_dir"`

	// ExtraDirs are searched after the fixed roots.
	ExtraDirs []string `json:"extra_dirs" mapstructure:"extra_dirs"`

	// CallTimeout bounds plugin initialize/cleanup calls. Zero waits
	// indefinitely.
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			BuiltinDir:  filepath.Join("share", "reconf", "plugins"),
			CallTimeout: 10 * time.Second,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Plugins.CallTimeout < 0 {
		return fmt.Errorf("plugins.call_timeout cannot be negative")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	return nil
}

// Roots returns the plugin search roots in precedence order: builtin,
// project, user, then any extra directories.
func (c *Config) Roots() []string {
	roots := []string{c.Plugins.BuiltinDir, "plugins", filepath.Join(".reconf", "plugins")}
	return append(roots, c.Plugins.ExtraDirs...)
}
