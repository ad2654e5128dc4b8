package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/dapp-builder/internal/paths"
	"github.com/altuslabsxyz/dapp-builder/pkg/plugin"
)

func newPluginsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect registered capability providers",
		Long: `Inspect the network, compiler and account providers available to dapp.

Built-in providers are always registered. External plugins are binaries
named <name>-plugin, discovered from ./plugins, <home>/plugins and any
plugin_dirs set in config.toml.`,
	}

	cmd.AddCommand(newPluginsListCmd(a))
	return cmd
}

type pluginEntry struct {
	Kind    string   `json:"kind"`
	Names   []string `json:"names"`
	Plugins []string `json:"external,omitempty"`
}

func newPluginsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List providers by kind",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.Container()
			if err != nil {
				return err
			}

			external := make(map[string]string)
			for _, client := range c.Plugins() {
				for _, p := range client.Providers() {
					external[string(p.Kind())+"/"+p.Name()] = fmt.Sprintf("%s@%s", client.Name(), client.Version())
				}
			}

			entries := make([]pluginEntry, 0, len(plugin.Kinds))
			for _, kind := range plugin.Kinds {
				e := pluginEntry{Kind: kind.String(), Names: slices.Collect(c.Registry().List(kind))}
				for _, name := range e.Names {
					if src, ok := external[kind.String()+"/"+name]; ok {
						e.Plugins = append(e.Plugins, src)
					}
				}
				entries = append(entries, e)
			}

			if a.logger.IsJSON() {
				return a.logger.JSON(entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tPROVIDER\tSOURCE")
			for _, e := range entries {
				for _, name := range e.Names {
					src := "built-in"
					if ext, ok := external[e.Kind+"/"+name]; ok {
						src = ext
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, name, src)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(c.Plugins()) == 0 {
				a.logger.Debug("No external plugins found in %s", strings.Join(paths.PluginSearchPath(a.settings.Home, a.settings.PluginDirs...), ", "))
			}
			return nil
		},
	}
}
