package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd.Context())
			cfg := *a.cfg
			if cfg.Music.APIKey != "" {
				cfg.Music.APIKey = "<redacted>"
			}
			out := cmd.OutOrStdout()
			if a.cfgPath != "" {
				fmt.Fprintf(out, "# loaded from %s\n", a.cfgPath)
			} else {
				fmt.Fprintln(out, "# built-in defaults")
			}
			return toml.NewEncoder(out).Encode(cfg)
		},
	}
}
