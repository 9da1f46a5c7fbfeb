package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/inkpanel/control"
	"github.com/vinayprograms/inkpanel/display"
	"github.com/vinayprograms/inkpanel/shutdown"
	"github.com/vinayprograms/inkpanel/supervisor"
	"github.com/vinayprograms/inkpanel/sysinfo"
	"github.com/vinayprograms/inkpanel/tasks"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane and supervise panel tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd.Context())
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// serve runs until ctx is canceled or the HTTP server fails, then shuts
// down in phases: control, tasks, storage, telemetry.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger.WithComponent("serve")

	provider, err := a.initTelemetry(ctx)
	if err != nil {
		return err
	}
	registry, m := newMetrics()

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	ledger := tasks.NewLedger(store)

	driver := a.newDriver()
	publisher := display.NewPublisher(driver, display.WithLogger(a.logger), display.WithMetrics(m))

	var (
		launcher supervisor.Launcher
		preview  control.Preview = publisher
		closeArt = func() {}
	)
	if cfg.Supervisor.Launcher == "process" {
		pl, err := supervisor.NewProcessLauncher(supervisor.ProcessConfig{
			Executable: cfg.Supervisor.Executable,
			Args:       a.childArgs(),
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
		})
		if err != nil {
			closeStore()
			return err
		}
		launcher = pl
		if png, ok := driver.(*display.PNGDriver); ok {
			preview = filePreview{fs: osFs, path: png.Path(), width: cfg.Panel.Width, height: cfg.Panel.Height}
		}
	} else {
		runner, closeRunner, err := a.newRunner(store, publisher, m)
		if err != nil {
			closeStore()
			return err
		}
		launcher = supervisor.NewInProcessLauncher(runner)
		closeArt = closeRunner
	}

	sup := supervisor.New(supervisor.Config{
		Store:       store,
		StatusKey:   cfg.Status.Key,
		Launcher:    launcher,
		Ledger:      ledger,
		StopTimeout: cfg.Supervisor.StopTimeout.Duration,
		Logger:      a.logger,
		Metrics:     m,
	})

	var host control.HostActions
	if cfg.Host.ServiceName != "" || cfg.Host.AllowPower {
		host = control.NewHost(control.HostConfig{
			ServiceName: cfg.Host.ServiceName,
			AllowPower:  cfg.Host.AllowPower,
		})
	}
	server := control.New(control.Config{
		Supervisor: sup,
		Watcher:    store,
		StatusKey:  cfg.Status.Key,
		Stats:      sysinfo.New(sysinfo.WithFs(osFs), sysinfo.WithDiskPath(cfg.Host.DiskPath)),
		Runs:       ledger,
		Preview:    preview,
		Host:       host,
		Registry:   registry,
		Logger:     a.logger,
	})

	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.Addr, 5*time.Second)
	})

	coord := shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  15 * time.Second,
		ContinueOnError: true,
		OnProgress: func(r shutdown.StepResult) {
			fields := map[string]interface{}{
				"handler":  r.Name,
				"phase":    r.Phase,
				"duration": r.Duration.Round(time.Millisecond).String(),
			}
			if r.Err != nil {
				fields["error"] = r.Err.Error()
				logger.Warn("shutdown_step_failed", fields)
				return
			}
			logger.Debug("shutdown_step", fields)
		},
	})
	coord.RegisterFuncWithPhase("control", func(ctx context.Context) error {
		stopServing()
		return g.Wait()
	}, shutdown.PhaseControl)
	coord.RegisterFuncWithPhase("tasks", sup.Stop, shutdown.PhaseTasks)
	coord.RegisterFuncWithPhase("storage", func(ctx context.Context) error {
		closeArt()
		ledger.Close()
		return closeStore()
	}, shutdown.PhaseStorage)
	if provider != nil {
		coord.RegisterFuncWithPhase("telemetry", provider.Close, shutdown.PhaseTelemetry)
	}

	logger.Info("started", map[string]interface{}{
		"addr":     cfg.Server.Addr,
		"launcher": cfg.Supervisor.Launcher,
		"status":   cfg.Status.Backend,
		"version":  Version,
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case <-gctx.Done():
		logger.Error("server_stopped")
	}
	return coord.ShutdownWithTimeout(0)
}
