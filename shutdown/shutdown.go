package shutdown

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyShutdown = errors.New("shutdown: already run")
	ErrTimeout         = errors.New("shutdown: deadline reached before all phases ran")
	ErrHandlerFailed   = errors.New("shutdown: a step failed")
)

// Phase orders shutdown steps. Lower phases run first.
type Phase int

const (
	PhaseControl   Phase = 10
	PhaseTasks     Phase = 20
	PhaseStorage   Phase = 30
	PhaseTelemetry Phase = 40
)

// StepResult reports how one step went.
type StepResult struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Config configures a Coordinator.
type Config struct {
	// DefaultTimeout is used by ShutdownWithTimeout(0). Default 15s.
	DefaultTimeout time.Duration

	// ContinueOnError runs later phases after a step fails.
	ContinueOnError bool

	// OnProgress is called after each step, possibly concurrently.
	OnProgress func(StepResult)
}

// DefaultConfig returns a 15s budget that keeps going past failures.
func DefaultConfig() Config {
	return Config{DefaultTimeout: 15 * time.Second, ContinueOnError: true}
}

type step struct {
	name  string
	phase Phase
	fn    func(context.Context) error
}

// Coordinator runs shutdown steps phase by phase. Steps sharing a phase run
// concurrently and the next phase starts once they have all returned.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	steps []step

	started atomic.Bool
	done    chan struct{}
	results []StepResult
	err     error
}

// NewCoordinator returns a Coordinator with no steps.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Coordinator{cfg: cfg, done: make(chan struct{})}
}

// RegisterFuncWithPhase adds a named step.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase Phase) {
	c.mu.Lock()
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn})
	c.mu.Unlock()
}

// ShutdownWithTimeout runs Shutdown under a fresh deadline. A zero timeout
// means Config.DefaultTimeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), cmp.Or(timeout, c.cfg.DefaultTimeout))
	defer cancel()
	return c.Shutdown(ctx)
}

// Shutdown runs every step once. Later callers block until the first run
// ends and then get ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.started.Swap(true) {
		<-c.done
		return ErrAlreadyShutdown
	}
	defer close(c.done)

	c.mu.Lock()
	steps := slices.Clone(c.steps)
	c.mu.Unlock()
	slices.SortStableFunc(steps, func(a, b step) int { return cmp.Compare(a.phase, b.phase) })

	for len(steps) > 0 {
		if ctx.Err() != nil {
			c.err = ErrTimeout
			return c.err
		}
		n := 1
		for n < len(steps) && steps[n].phase == steps[0].phase {
			n++
		}
		failed := c.runPhase(ctx, steps[:n])
		steps = steps[n:]
		if failed {
			c.err = ErrHandlerFailed
			if !c.cfg.ContinueOnError {
				break
			}
		}
	}
	return c.err
}

func (c *Coordinator) runPhase(ctx context.Context, steps []step) bool {
	out := make([]StepResult, len(steps))
	var g errgroup.Group
	for i, s := range steps {
		g.Go(func() error {
			began := time.Now()
			err := s.fn(ctx)
			out[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(began), Err: err}
			if c.cfg.OnProgress != nil {
				c.cfg.OnProgress(out[i])
			}
			return err
		})
	}
	failed := g.Wait() != nil
	c.results = append(c.results, out...)
	return failed
}

// Done is closed when Shutdown has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Results lists every step that ran, in phase order. It is nil until Done
// is closed.
func (c *Coordinator) Results() []StepResult {
	select {
	case <-c.done:
		return c.results
	default:
		return nil
	}
}

// Failed names the steps that returned an error.
func (c *Coordinator) Failed() []string {
	var names []string
	for _, r := range c.Results() {
		if r.Err != nil {
			names = append(names, r.Name)
		}
	}
	return names
}
