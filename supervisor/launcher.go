package supervisor

import (
	"context"
	"sync"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/tasks"
)

// Handle is a launched task.
type Handle interface {
	// Kind returns the task kind.
	Kind() tasks.Kind

	// Done is closed when the task has exited.
	Done() <-chan struct{}

	// Err returns the exit error once Done is closed. A task stopped by
	// Stop reports an error matching context.Canceled.
	Err() error

	// Stop asks the task to exit and waits until it has or ctx ends.
	Stop(ctx context.Context) error
}

// Launcher starts tasks.
type Launcher interface {
	Launch(ctx context.Context, spec tasks.Spec, generation uint64) (Handle, error)
}

// Runner executes a task in the current process until it finishes or ctx
// is canceled.
type Runner interface {
	Run(ctx context.Context, spec tasks.Spec, generation uint64) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, spec tasks.Spec, generation uint64) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, spec tasks.Spec, generation uint64) error {
	return f(ctx, spec, generation)
}

// InProcessLauncher runs tasks as goroutines.
type InProcessLauncher struct {
	runner Runner
}

// NewInProcessLauncher creates a launcher for runner.
func NewInProcessLauncher(runner Runner) *InProcessLauncher {
	return &InProcessLauncher{runner: runner}
}

// Launch starts the runner detached from ctx; only Stop ends it early.
func (l *InProcessLauncher) Launch(ctx context.Context, spec tasks.Spec, generation uint64) (Handle, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &goroutineHandle{
		kind:   spec.Kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				h.setErr(perrors.RecoverPanic(r))
			}
		}()
		h.setErr(l.runner.Run(runCtx, spec, generation))
	}()
	return h, nil
}

type goroutineHandle struct {
	kind   tasks.Kind
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (h *goroutineHandle) Kind() tasks.Kind      { return h.kind }
func (h *goroutineHandle) Done() <-chan struct{} { return h.done }

func (h *goroutineHandle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *goroutineHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *goroutineHandle) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
