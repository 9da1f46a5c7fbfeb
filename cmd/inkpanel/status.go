package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/inkpanel/supervisor"
	"github.com/vinayprograms/inkpanel/tasks"
)

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		runs   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the active task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd.Context())
			store, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			sup := supervisor.New(supervisor.Config{Store: store, StatusKey: a.cfg.Status.Key, Logger: a.logger})
			info := sup.Status()
			out := cmd.OutOrStdout()

			if !runs {
				if asJSON {
					return json.NewEncoder(out).Encode(info)
				}
				fmt.Fprintf(out, "%s (revision %d)\n", info.Status, info.Revision)
				return nil
			}

			list, err := tasks.NewLedger(store).List(cmd.Context(), "")
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(out).Encode(list)
			}
			for _, r := range list {
				fmt.Fprintf(out, "%s  %-9s %-9s gen=%d %s\n",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.Generation, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&runs, "runs", false, "list recorded runs instead")
	return cmd
}
