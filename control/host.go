package control

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Host actions.
const (
	ActionShutdown       = "shutdown"
	ActionReboot         = "reboot"
	ActionRestartService = "restart_service"
)

var (
	// ErrUnknownAction is returned for actions outside the fixed set.
	ErrUnknownAction = errors.New("unknown host action")

	// ErrPowerDisabled is returned for shutdown and reboot when power
	// actions are turned off.
	ErrPowerDisabled = errors.New("power actions disabled")
)

// HostConfig configures host actions.
type HostConfig struct {
	// ServiceName is the unit restarted by restart_service.
	ServiceName string

	// AllowPower enables shutdown and reboot.
	AllowPower bool

	// Sudo prefixes every command. Default: "sudo". Set to "-" for none.
	Sudo string

	// Timeout bounds one command. Default: 30s
	Timeout time.Duration

	// Exec runs a command. Default: os/exec.
	Exec func(ctx context.Context, name string, args ...string) error
}

// Host runs the fixed set of host power and service actions.
type Host struct {
	cfg HostConfig
}

// NewHost creates a host action runner.
func NewHost(cfg HostConfig) *Host {
	if cfg.Sudo == "" {
		cfg.Sudo = "sudo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Exec == nil {
		cfg.Exec = execCommand
	}
	return &Host{cfg: cfg}
}

// Command returns the argv for action.
func (h *Host) Command(action string) ([]string, error) {
	var argv []string
	switch action {
	case ActionShutdown:
		if !h.cfg.AllowPower {
			return nil, ErrPowerDisabled
		}
		argv = []string{"shutdown", "-h", "now"}
	case ActionReboot:
		if !h.cfg.AllowPower {
			return nil, ErrPowerDisabled
		}
		argv = []string{"reboot"}
	case ActionRestartService:
		if h.cfg.ServiceName == "" {
			return nil, fmt.Errorf("%w: no service configured", ErrUnknownAction)
		}
		argv = []string{"systemctl", "restart", h.cfg.ServiceName}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if h.cfg.Sudo != "-" {
		argv = append([]string{h.cfg.Sudo}, argv...)
	}
	return argv, nil
}

// Run executes action. The request that triggered it may end before the
// command does, so ctx only contributes its values.
func (h *Host) Run(ctx context.Context, action string) error {
	argv, err := h.Command(action)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.Timeout)
	defer cancel()
	if err := h.cfg.Exec(runCtx, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return nil
}

func execCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return err
}
