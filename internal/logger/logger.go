// Package logger constructs the application's zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level   string `json:"level" mapstructure:"level"`     // debug, info, warn, error
	File    string `json:"file" mapstructure:"file"`       // log file path, empty disables
	Console bool   `json:"console" mapstructure:"console"` // enable console output
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`   // human-readable console format
}

// DefaultConfig returns the logger defaults: pretty console output at info.
func DefaultConfig() Config {
	return Config{Level: "info", Console: true, Pretty: true}
}

// New creates a logger from the configuration. The returned closer releases
// the log file, when one is configured.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	var closer io.Closer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}

	if len(writers) == 0 {
		return zerolog.Nop().Level(level), nil, nil
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return log, closer, nil
}
