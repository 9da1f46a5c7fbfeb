package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/inkpanel/display"
	"github.com/vinayprograms/inkpanel/tasks"
)

func newRunCmd() *cobra.Command {
	var (
		text       string
		generation uint64
		claim      bool
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one panel task in the foreground",
		Long: `Run one panel task in the foreground.

Tasks: dashboard, weather, music, message (with --text), clean.

The music task keeps running while the active-task record names it. The
supervisor passes --generation so a stale monitor also stops when the record
is rewritten with the same key. Use --claim when running by hand to write the
record first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := tasks.ParseSpec(args[0], text)
			if err != nil {
				return err
			}
			return appFrom(cmd.Context()).run(cmd.Context(), spec, generation, claim)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().Uint64Var(&generation, "generation", 0, "active-task record revision this run belongs to (0 skips the check)")
	cmd.Flags().BoolVar(&claim, "claim", false, "write the active-task record before running")
	return cmd
}

func (a *app) run(ctx context.Context, spec tasks.Spec, generation uint64, claim bool) error {
	provider, err := a.initTelemetry(ctx)
	if err != nil {
		return err
	}
	if provider != nil {
		defer provider.Close(context.WithoutCancel(ctx))
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	if claim {
		rev, err := store.Put(a.cfg.Status.Key, []byte(spec.Kind.Key()), 0)
		if err != nil {
			return fmt.Errorf("claim record: %w", err)
		}
		generation = rev
	}

	publisher := display.NewPublisher(a.newDriver(), display.WithLogger(a.logger))
	runner, closeRunner, err := a.newRunner(store, publisher, nil)
	if err != nil {
		return err
	}
	defer closeRunner()

	err = runner.Run(ctx, spec, generation)
	if ctx.Err() != nil {
		// Stopped by the supervisor or the user.
		return nil
	}
	return err
}
