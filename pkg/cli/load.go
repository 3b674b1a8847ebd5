package cli

import (
	"fmt"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/spf13/cobra"
)

func newLoadCommand(opts *globalOptions) *cobra.Command {
	var startup bool

	cmd := &cobra.Command{
		Use:   "load [plugin-name]",
		Short: "Discover plugins and load one of them",
		Long: `Run discovery, then load the named plugin: execute its init.lua and call
the load() function returned by main.lua. With --startup every plugin whose
manifest sets enable-startup is loaded instead.`,
		Example: `  # Load one plugin
  pluginhost load Foo

  # Load the startup plugins
  pluginhost load --startup`,
		Args: func(cmd *cobra.Command, args []string) error {
			if startup {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			log := newLogger(cfg, cmd.ErrOrStderr())
			manager := plugins.NewManager(cfg.Plugins.Roots(), log,
				plugins.WithModuleRegistry(plugins.NewModuleRegistry()),
				plugins.WithLoadTimeout(cfg.Plugins.LoadTimeout),
			)
			defer manager.Modules().Clear()

			registry := manager.FindPlugins(cmd.Context())

			if startup {
				err := manager.LoadStartupPlugins(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d startup plugins\n", manager.Modules().Count())
				return err
			}

			name := args[0]
			if !registry.Has(name) {
				return fmt.Errorf("plugin not found: %s", name)
			}
			if err := manager.LoadPlugin(cmd.Context(), name); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&startup, "startup", false, "Load every enable-startup plugin")
	return cmd
}
