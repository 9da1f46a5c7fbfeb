package tasks

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrRunNotFound indicates the requested run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished indicates the run already reached a terminal state.
	ErrRunFinished = errors.New("run already finished")

	// ErrInvalidSpec indicates a launch request with mismatched parameters.
	ErrInvalidSpec = errors.New("invalid task spec")

	// ErrStoreClosed indicates the underlying store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// RunStatus represents the state of a run.
type RunStatus string

const (
	// StatusRunning indicates the task is executing.
	StatusRunning RunStatus = "running"

	// StatusCompleted indicates the task finished on its own.
	StatusCompleted RunStatus = "completed"

	// StatusFailed indicates the task returned an error.
	StatusFailed RunStatus = "failed"

	// StatusStopped indicates the supervisor stopped the task.
	StatusStopped RunStatus = "stopped"
)

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Run is one launch of a task.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Generation uint64     `json:"generation"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
}

// Clone creates a copy of the run.
func (r *Run) Clone() *Run {
	clone := *r
	if r.EndedAt != nil {
		ended := *r.EndedAt
		clone.EndedAt = &ended
	}
	return &clone
}

// RunLedger records task launches.
type RunLedger interface {
	// Start records a new running task and returns its run ID.
	Start(ctx context.Context, spec Spec, generation uint64) (string, error)

	// Finish moves a run to completed, failed (err != nil) or stopped
	// (err is context.Canceled). Finishing a finished run is a no-op.
	Finish(ctx context.Context, runID string, err error) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, runID string) (*Run, error)

	// List returns runs with the given status, newest first.
	// An empty status returns all runs.
	List(ctx context.Context, status RunStatus) ([]*Run, error)

	// Close releases resources held by the ledger.
	Close() error
}
