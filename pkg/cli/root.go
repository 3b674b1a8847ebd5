package cli

import (
	"fmt"
	"io"

	"github.com/platinummonkey/pluginhost/pkg/config"
	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configPath string
	logLevel   string
	builtinDir string
	userDir    string
}

// NewRootCommand creates the root command
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "Pluginhost - discovers and loads Lua plugins",
		Long: `Pluginhost scans its plugin directories for plugin.json manifests, keeps a
registry of the plugins it finds and loads them on request.

Plugins are Lua packages: init.lua is executed first, then main.lua must
return a table with a load() function.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.builtinDir, "builtin-dir", "", "Built-in plugin directory")
	flags.StringVar(&opts.userDir, "user-dir", "", "User plugin directory")

	// Add subcommands
	rootCmd.AddCommand(newDiscoverCommand(opts))
	rootCmd.AddCommand(newLoadCommand(opts))
	rootCmd.AddCommand(newServeCommand(opts, version))

	return rootCmd
}

// loadConfig reads the configuration and applies command line overrides
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if o.builtinDir != "" {
		cfg.Plugins.BuiltinDir = o.builtinDir
	}
	if o.userDir != "" {
		cfg.Plugins.UserDir = o.userDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger writing to out
func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	if cfg.Observability.LogFormat == "json" {
		return observability.NewJSONLogger(cfg.Observability.Level(), out)
	}
	return observability.NewLogger(cfg.Observability.Level(), out)
}
