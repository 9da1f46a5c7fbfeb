package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/tasks"
)

// DefaultGrace is how long a stopped process gets between SIGTERM and SIGKILL.
const DefaultGrace = 3 * time.Second

// ProcessConfig configures a ProcessLauncher.
type ProcessConfig struct {
	// Executable is the binary to run. Default: the running binary.
	Executable string

	// Args are placed before the run subcommand, e.g. "--config", path.
	Args []string

	// Grace is the SIGTERM to SIGKILL delay. Default: DefaultGrace.
	Grace time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// ProcessLauncher runs each task as "<exe> [args] run <key> [--text T]
// --generation N" in its own process group, so stopping a task also stops
// anything it spawned.
type ProcessLauncher struct {
	cfg ProcessConfig
}

// NewProcessLauncher creates a process launcher.
func NewProcessLauncher(cfg ProcessConfig) (*ProcessLauncher, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		cfg.Executable = exe
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &ProcessLauncher{cfg: cfg}, nil
}

// Command returns the argv used to launch spec.
func (l *ProcessLauncher) Command(spec tasks.Spec, generation uint64) []string {
	argv := append([]string{l.cfg.Executable}, l.cfg.Args...)
	argv = append(argv, "run")
	argv = append(argv, spec.Args()...)
	return append(argv, "--generation", strconv.FormatUint(generation, 10))
}

// Launch starts the child process. The child is not tied to ctx.
func (l *ProcessLauncher) Launch(ctx context.Context, spec tasks.Spec, generation uint64) (Handle, error) {
	argv := l.Command(spec, generation)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = l.cfg.Stdout
	cmd.Stderr = l.cfg.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, perrors.New(perrors.ErrCodeLaunchFailed, "start "+spec.Kind.Key(),
			perrors.WithTask(spec.Kind.Key()), perrors.WithCause(err))
	}

	h := &processHandle{
		kind:  spec.Kind,
		cmd:   cmd,
		grace: l.cfg.Grace,
		done:  make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	kind  tasks.Kind
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func (h *processHandle) Kind() tasks.Kind      { return h.kind }
func (h *processHandle) Done() <-chan struct{} { return h.done }

// Pid returns the child's process ID, which is also its group ID.
func (h *processHandle) Pid() int { return h.cmd.Process.Pid }

func (h *processHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return context.Canceled
	}
	if h.err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) {
		return perrors.New(perrors.ErrCodeInternal, h.kind.Key()+" exited: "+exitErr.Error(),
			perrors.WithTask(h.kind.Key()), perrors.WithCause(h.err))
	}
	return h.err
}

// Stop signals the process group with SIGTERM and escalates to SIGKILL after
// the grace period or when ctx ends first.
func (h *processHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	pgid := -h.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	grace := time.NewTimer(h.grace)
	defer grace.Stop()

	select {
	case <-h.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	select {
	case <-h.done:
		return nil
	case <-time.After(time.Second):
		return perrors.New(perrors.ErrCodeTimeout, "process group did not exit",
			perrors.WithTask(h.kind.Key()))
	}
}
