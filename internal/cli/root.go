// Package cli implements the reconf command line interface. It is a thin
// collaborator over the plugin registry; the engine itself lives in
// pkg/plugin.
package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reconf-refind/reconf/internal/config"
	"github.com/reconf-refind/reconf/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "reconf",
	Short: "reconf - boot manager configuration editor",
	Long: `reconf is a terminal-based editor for boot manager configuration files,
extensible through plugins: themes, configuration parsers, UI components,
validators and exporters.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.reconf/reconf.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// setup loads the configuration and builds the application logger, applying
// the --log-level override.
func setup() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, log, closer, nil
}
