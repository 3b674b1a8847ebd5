package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
	"github.com/spf13/cobra"
)

func newDiscoverCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the plugins found in the plugin directories",
		Long: `Scan the built-in and user plugin directories and list every plugin whose
manifest is valid. Bad manifests are reported in the log and skipped.`,
		Example: `  # List plugins as a table
  pluginhost discover

  # Scan an extra directory and print JSON
  pluginhost discover --user-dir ./plugins --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			log := newLogger(cfg, cmd.ErrOrStderr())
			manager := plugins.NewManager(cfg.Plugins.Roots(), log)
			registry := manager.FindPlugins(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(registry)
			}
			return printRegistry(cmd, registry)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the registry as JSON")
	return cmd
}

func printRegistry(cmd *cobra.Command, registry *plugins.Registry) error {
	if registry.Len() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No plugins found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTARTUP\tDESCRIPTION\tFOLDER")
	for _, rec := range registry.Records() {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", rec.Name, rec.EnableStartup, rec.Description, rec.Folder)
	}
	return w.Flush()
}
