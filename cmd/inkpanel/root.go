package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vinayprograms/inkpanel/config"
	"github.com/vinayprograms/inkpanel/logging"
)

type globalOptions struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
}

// app is what every subcommand gets after the root has loaded config.
type app struct {
	opts    globalOptions
	cfg     *config.Config
	cfgPath string
	logger  *logging.Logger
	closers []io.Closer
}

type appKey struct{}

func appFrom(ctx context.Context) *app {
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := globalOptions{}
	cmd := &cobra.Command{
		Use:           "inkpanel",
		Short:         "Drive an e-paper panel from a web control surface",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a := appFrom(cmd.Context()); a != nil {
				a.close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: first of the standard locations)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", `rotated log file (overrides config, "-" disables)`)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newApp(opts globalOptions, logOut io.Writer) (*app, error) {
	cfg, path, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	a := &app{opts: opts, cfg: cfg, cfgPath: path}

	levelName := cfg.Log.Level
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", levelName)
	}

	logFile := cfg.Log.File
	if opts.LogFile != "" {
		logFile = opts.LogFile
	}
	out := logOut
	if logFile != "" && logFile != "-" {
		rotated := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		a.closers = append(a.closers, rotated)
		out = io.MultiWriter(logOut, rotated)
	}

	a.logger = logging.New()
	a.logger.SetOutput(out)
	a.logger.SetLevel(level)
	for _, w := range cfg.Warnings {
		a.logger.Warn("config_warning", map[string]interface{}{"detail": w})
	}
	if path != "" {
		a.logger.Debug("config_loaded", map[string]interface{}{"path": path})
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	a.closers = nil
}

// childArgs are the global flags a re-executed task process needs.
func (a *app) childArgs() []string {
	var args []string
	if a.cfgPath != "" {
		args = append(args, "--config", a.cfgPath)
	}
	if a.opts.LogLevel != "" {
		args = append(args, "--log-level", a.opts.LogLevel)
	}
	// The parent owns the rotated file.
	return append(args, "--log-file", "-")
}
