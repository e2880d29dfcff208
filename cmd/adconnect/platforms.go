package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	adconnect "github.com/goliatone/go-adconnect"
	"github.com/goliatone/go-adconnect/core"
	"github.com/spf13/cobra"
)

func newPlatformsCommand(global *globalOptions) *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List the configured advertising platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := core.NewPlatformRegistry(adconnect.WithPlatformDefaults(cfg).PlatformConfigs()...)
			if err != nil {
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "KEY\tNAME\tENABLED\tSCOPES")
			for _, platform := range registry.List() {
				if enabledOnly && !platform.Enabled {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%t\t%s\n",
					platform.Key, platform.DisplayName, platform.Enabled, strings.Join(platform.Scopes, ","))
			}
			return out.Flush()
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list enabled platforms")
	return cmd
}
