package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/reconf-refind/reconf/pkg/plugin"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and manage plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := buildRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := registry.Initialize(cmd.Context()); err != nil {
			return err
		}

		manifests := registry.GetAllPlugins()
		if len(manifests) == 0 {
			fmt.Println(dimStyle.Render("no plugins installed"))
			return nil
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %-12s %-14s %s", "NAME", "VERSION", "TYPE", "STATUS")))
		for _, m := range manifests {
			status := dimStyle.Render("inactive")
			if registry.IsActive(m.Name) {
				status = activeStyle.Render("active")
			}
			fmt.Printf("%-24s %-12s %-14s %s\n", m.Name, m.Version, m.Type, status)
		}
		return nil
	},
}

var pluginsActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Activate a plugin and its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := buildRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := registry.Initialize(cmd.Context()); err != nil {
			return err
		}
		if err := registry.ActivatePlugin(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("activated %s\n", args[0])
		return nil
	},
}

var pluginsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <name>",
	Short: "Deactivate an active plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := buildRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := registry.Initialize(cmd.Context()); err != nil {
			return err
		}
		if err := registry.DeactivatePlugin(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deactivated %s\n", args[0])
		return nil
	},
}

var pluginsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := buildRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := registry.Initialize(cmd.Context()); err != nil {
			return err
		}

		stats := registry.GetStats()
		fmt.Println(headerStyle.Render("Plugins"))
		fmt.Printf("  loaded: %d  active: %d\n", stats.TotalPlugins, stats.ActivePlugins)
		for _, t := range []plugin.PluginType{
			plugin.TypeTheme, plugin.TypeConfigParser, plugin.TypeUIComponent,
			plugin.TypeValidator, plugin.TypeExporter,
		} {
			if stats.ByType[t] == 0 {
				continue
			}
			fmt.Printf("  %-14s %d (%d active)\n", t, stats.ByType[t], stats.ActiveByType[t])
		}

		fmt.Println(headerStyle.Render("Hooks"))
		for _, name := range plugin.WellKnownHooks {
			fmt.Printf("  %-22s %d handlers\n", name, stats.HookHandlers[name])
		}
		return nil
	},
}

var pluginsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch plugin directories and reload on changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closer, err := setup()
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		registry := plugin.New(cfg.Roots(), log,
			plugin.WithCallTimeout(cfg.Plugins.CallTimeout))
		if err := registry.Initialize(cmd.Context()); err != nil {
			return err
		}

		watcher, err := plugin.NewWatcher(plugin.WatcherConfig{
			Roots:  cfg.Roots(),
			Logger: log,
			OnChange: func(path string) {
				log.Info().Str("path", path).Msg("Manifest changed, reloading")
				if err := registry.Reload(cmd.Context()); err != nil {
					log.Error().Err(err).Msg("Reload failed")
				}
			},
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		return nil
	},
}

// buildRegistry constructs a registry from the loaded configuration. The
// returned cleanup releases the log file.
func buildRegistry() (*plugin.Registry, func(), error) {
	cfg, log, closer, err := setup()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer != nil {
			closer.Close()
		}
	}

	registry := plugin.New(cfg.Roots(), log,
		plugin.WithCallTimeout(cfg.Plugins.CallTimeout))
	return registry, cleanup, nil
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd, pluginsActivateCmd, pluginsDeactivateCmd,
		pluginsStatsCmd, pluginsWatchCmd)
	rootCmd.AddCommand(pluginsCmd)
}
