package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/logging"
	"github.com/vinayprograms/inkpanel/metrics"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/tasks"
	"github.com/vinayprograms/inkpanel/telemetry"
)

// DefaultStopTimeout bounds how long a request waits for the previous task.
const DefaultStopTimeout = 5 * time.Second

// Status values reported besides task display names.
const (
	StatusIdle  = "Idle"
	StatusError = "Error"
)

// Config configures a Supervisor.
type Config struct {
	// Store holds the active-task record under StatusKey.
	Store     state.StateStore
	StatusKey string

	Launcher Launcher

	// Ledger records runs. Optional.
	Ledger tasks.RunLedger

	// StopTimeout bounds the wait for the previous task. A task that does
	// not exit in time is abandoned and the new one starts anyway.
	StopTimeout time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer
}

// Active describes the task the supervisor currently holds.
type Active struct {
	Kind       tasks.Kind `json:"-"`
	Key        string     `json:"kind"`
	RunID      string     `json:"run_id,omitempty"`
	Generation uint64     `json:"generation"`
	StartedAt  time.Time  `json:"started_at"`
}

// StatusInfo is the active-task record as shown to users.
type StatusInfo struct {
	Status   string `json:"status"`
	Revision uint64 `json:"revision"`
}

type running struct {
	handle Handle
	info   Active
}

// Supervisor serializes task requests so that at most one task runs.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	current *running
	wg      sync.WaitGroup
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("supervisor"),
	}
}

// RequestKey resolves a wire key and requests the task. Message requests
// with empty text are ignored and return ok=false with no error.
func (s *Supervisor) RequestKey(ctx context.Context, key, text, source string) (Active, bool, error) {
	kind, err := tasks.ParseKind(key)
	if err != nil {
		s.logger.Warn("task_rejected", map[string]interface{}{"key": key, "source": source})
		return Active{}, false, err
	}
	if kind == tasks.KindMessage && strings.TrimSpace(text) == "" {
		return Active{}, false, nil
	}

	spec, err := tasks.ParseSpec(key, text)
	if err != nil {
		return Active{}, false, err
	}
	s.logger.TaskRequested(spec.Kind.Key(), source)
	s.cfg.Metrics.TaskRequested(spec.Kind.Key(), source)

	info, err := s.RequestTask(ctx, spec)
	if err != nil {
		return Active{}, false, err
	}
	return info, true, nil
}

// RequestTask stops the held task, records spec as active and launches it.
// It returns once the new task has started, not when it finishes.
func (s *Supervisor) RequestTask(ctx context.Context, spec tasks.Spec) (Active, error) {
	if err := spec.Validate(); err != nil {
		return Active{}, err
	}
	key := spec.Kind.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(ctx)

	generation, err := s.cfg.Store.Put(s.cfg.StatusKey, []byte(key), 0)
	if err != nil {
		s.logger.StatusWriteFailed(key, err)
		s.cfg.Metrics.StatusWriteFailed()
		generation = 0
	}

	spanCtx, span := s.cfg.Tracer.StartTaskSpan(ctx, key, generation)
	handle, err := s.cfg.Launcher.Launch(spanCtx, spec, generation)
	if err != nil {
		s.cfg.Tracer.EndTaskSpan(span, "", err)
		s.cfg.Metrics.SetActiveTask("")
		s.logger.Error("task_launch_failed", map[string]interface{}{
			"kind":  key,
			"error": err.Error(),
		})
		if perrors.Code(err) != perrors.ErrCodeLaunchFailed {
			err = perrors.New(perrors.ErrCodeLaunchFailed, "launch "+key,
				perrors.WithTask(key), perrors.WithCause(err))
		}
		return Active{}, err
	}

	info := Active{
		Kind:       spec.Kind,
		Key:        key,
		Generation: generation,
		StartedAt:  time.Now(),
	}
	if s.cfg.Ledger != nil {
		runID, lerr := s.cfg.Ledger.Start(spanCtx, spec, generation)
		if lerr != nil {
			s.logger.Warn("ledger_start_failed", map[string]interface{}{
				"kind":  key,
				"error": lerr.Error(),
			})
		}
		info.RunID = runID
	}
	s.cfg.Tracer.EndTaskSpan(span, info.RunID, nil)

	cur := &running{handle: handle, info: info}
	s.current = cur
	s.cfg.Metrics.SetActiveTask(key)
	s.logger.TaskStarted(key, info.RunID, generation)

	s.wg.Add(1)
	go s.watch(cur)
	return info, nil
}

// watch records the exit of a launched task.
func (s *Supervisor) watch(cur *running) {
	defer s.wg.Done()
	<-cur.handle.Done()

	runErr := cur.handle.Err()
	status := tasks.StatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = tasks.StatusStopped
	default:
		status = tasks.StatusFailed
	}

	if s.cfg.Ledger != nil && cur.info.RunID != "" {
		if err := s.cfg.Ledger.Finish(context.Background(), cur.info.RunID, runErr); err != nil {
			s.logger.Warn("ledger_finish_failed", map[string]interface{}{
				"run_id": cur.info.RunID,
				"error":  err.Error(),
			})
		}
	}
	logErr := runErr
	if status == tasks.StatusStopped {
		logErr = nil
	}
	s.logger.TaskExited(cur.info.Key, cur.info.RunID, time.Since(cur.info.StartedAt), logErr)
	s.cfg.Metrics.TaskExited(cur.info.Key, status.String())

	s.mu.Lock()
	if s.current == cur {
		s.current = nil
		s.cfg.Metrics.SetActiveTask("")
	}
	s.mu.Unlock()
}

// stopLocked stops the held task, waiting at most StopTimeout. The caller
// holds s.mu.
func (s *Supervisor) stopLocked(ctx context.Context) {
	cur := s.current
	if cur == nil {
		return
	}
	s.current = nil

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()
	if err := cur.handle.Stop(stopCtx); err != nil {
		s.logger.Warn("task_stop_timeout", map[string]interface{}{
			"kind":   cur.info.Key,
			"run_id": cur.info.RunID,
			"error":  err.Error(),
		})
	}
}

// Active returns the held task, if any.
func (s *Supervisor) Active() (Active, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Active{}, false
	}
	return s.current.info, true
}

// QueryStatus returns the display name of the recorded task, "Idle" when
// there is none and "Error" when the record cannot be read at all.
func (s *Supervisor) QueryStatus() string {
	return s.Status().Status
}

// Status returns the display status together with the record revision.
func (s *Supervisor) Status() StatusInfo {
	kv, err := s.cfg.Store.GetKeyValue(s.cfg.StatusKey)
	switch {
	case errors.Is(err, state.ErrClosed):
		return StatusInfo{Status: StatusError}
	case err != nil:
		if !errors.Is(err, state.ErrNotFound) {
			s.logger.Warn("status_read_failed", map[string]interface{}{"error": err.Error()})
		}
		return StatusInfo{Status: StatusIdle}
	}
	name := tasks.DisplayName(string(kv.Value))
	if name == "" {
		return StatusInfo{Status: StatusIdle, Revision: kv.Revision}
	}
	return StatusInfo{Status: name, Revision: kv.Revision}
}

// Stop stops the held task and waits for exit bookkeeping to finish. The
// active-task record is left as is.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopLocked(ctx)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
