package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/state"
)

// runPrefix is the state store key prefix for runs.
const runPrefix = "runs."

// DefaultRunTTL is how long finished and unfinished runs are kept.
const DefaultRunTTL = 24 * time.Hour

// Ledger implements RunLedger using a state store backend.
type Ledger struct {
	store  state.StateStore
	mu     sync.Mutex
	closed atomic.Bool
	idGen  func() string
	ttl    time.Duration
	now    func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithIDGenerator sets a custom ID generator function.
func WithIDGenerator(gen func() string) LedgerOption {
	return func(l *Ledger) {
		l.idGen = gen
	}
}

// WithTTL sets how long run records are kept.
func WithTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.ttl = ttl
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a run ledger backed by the given state store.
func NewLedger(store state.StateStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store: store,
		idGen: uuid.NewString,
		ttl:   DefaultRunTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start records a new running task.
func (l *Ledger) Start(ctx context.Context, spec Spec, generation uint64) (string, error) {
	if l.closed.Load() {
		return "", ErrStoreClosed
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	run := &Run{
		ID:         l.idGen(),
		Kind:       spec.Kind.Key(),
		Generation: generation,
		Status:     StatusRunning,
		StartedAt:  l.now(),
	}
	if err := l.saveRun(run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// Finish records how a run ended.
func (l *Ledger) Finish(ctx context.Context, runID string, runErr error) error {
	if l.closed.Load() {
		return ErrStoreClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.loadRun(runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		// Already finished.
		return nil
	}

	now := l.now()
	run.EndedAt = &now
	switch {
	case runErr == nil:
		run.Status = StatusCompleted
	case errors.Is(runErr, context.Canceled):
		run.Status = StatusStopped
	default:
		run.Status = StatusFailed
		run.Error = runErr.Error()
		run.ErrorCode = string(perrors.Code(runErr))
	}
	return l.saveRun(run)
}

// Get retrieves a run by ID.
func (l *Ledger) Get(ctx context.Context, runID string) (*Run, error) {
	if l.closed.Load() {
		return nil, ErrStoreClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.loadRun(runID)
	if err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

// List returns runs matching status, newest first.
func (l *Ledger) List(ctx context.Context, status RunStatus) ([]*Run, error) {
	if l.closed.Load() {
		return nil, ErrStoreClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.store.Keys(runPrefix + "*")
	if err != nil {
		return nil, err
	}

	var runs []*Run
	for _, key := range keys {
		run, err := l.loadRun(strings.TrimPrefix(key, runPrefix))
		if err != nil {
			continue
		}
		if status == "" || run.Status == status {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Close releases resources held by the ledger. The store is owned by the caller.
func (l *Ledger) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *Ledger) loadRun(runID string) (*Run, error) {
	data, err := l.store.Get(runPrefix + runID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrInvalidKey) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (l *Ledger) saveRun(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = l.store.Put(runPrefix+run.ID, data, l.ttl)
	return err
}
