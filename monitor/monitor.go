// Package monitor implements the now-playing monitor: a poll loop that
// debounces track changes before asking for a render.
//
// Each cycle checks whether the monitor is still the active task, polls the
// track source and compares the observation with the last committed one. A
// change is only committed after it survives a full skip-buffer window, so
// rapid skipping never reaches the panel.
package monitor

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/inkpanel/logging"
	"github.com/vinayprograms/inkpanel/metrics"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/telemetry"
	"github.com/vinayprograms/inkpanel/track"
)

// Defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultSkipBuffer   = 20 * time.Second

	// bufferTick is the poll and cancellation interval inside the skip buffer.
	bufferTick = time.Second
)

// State is the monitor's position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateConfirming
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observation is what one poll saw, reduced to the identity used for change
// detection. Idle is a distinct marker; no title can equal it.
type Observation struct {
	Idle  bool
	Title string
}

// Observe reduces a snapshot. Only the title identifies a track.
func Observe(s track.Snapshot) Observation {
	if !s.Playing {
		return Observation{Idle: true}
	}
	return Observation{Title: s.Title}
}

func (o Observation) String() string {
	if o.Idle {
		return "<idle>"
	}
	return o.Title
}

// StatusReader reads the active-task record.
type StatusReader interface {
	GetKeyValue(key string) (*state.KeyValue, error)
}

// Presenter draws a committed snapshot. A snapshot that is not playing
// means the idle screen.
type Presenter interface {
	Present(ctx context.Context, snap track.Snapshot) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, snap track.Snapshot) error

// Present implements Presenter.
func (f PresenterFunc) Present(ctx context.Context, snap track.Snapshot) error {
	return f(ctx, snap)
}

// Config configures a Monitor.
type Config struct {
	Source    track.Source
	Presenter Presenter

	// Status is the active-task record store, StatusKey its key and TaskKey
	// the value that means this monitor is still wanted.
	Status    StatusReader
	StatusKey string
	TaskKey   string

	// Generation is the record revision this monitor was launched under.
	// 0 disables the revision check.
	Generation uint64

	// PollInterval is P, default 5s. SkipBuffer is B: 0 confirms on the
	// very next poll, negative means the 20s default.
	PollInterval time.Duration
	SkipBuffer   time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer

	// Sleep waits d or until ctx is done. Default: timer based.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Monitor is one run of the now-playing loop. It is not reusable.
type Monitor struct {
	cfg    Config
	logger *logging.Logger
	state  atomic.Int32
}

// New creates a monitor.
func New(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SkipBuffer < 0 {
		cfg.SkipBuffer = DefaultSkipBuffer
	}
	if cfg.TaskKey == "" {
		cfg.TaskKey = "music"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	m := &Monitor{cfg: cfg, logger: cfg.Logger.WithComponent("monitor")}
	m.state.Store(int32(StateIdle))
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Run polls until the monitor is superseded or ctx is done. It returns nil
// when superseded and ctx.Err() when canceled.
func (m *Monitor) Run(ctx context.Context) error {
	var (
		committed    Observation
		hasCommitted bool
	)

	for {
		if m.superseded(ctx) {
			return m.stop(ctx)
		}

		_, current := m.poll(ctx)
		if hasCommitted && current == committed {
			if err := m.cfg.Sleep(ctx, m.cfg.PollInterval); err != nil {
				return m.stop(ctx)
			}
			continue
		}

		snap, ok, alive := m.confirm(ctx, current, committed, hasCommitted)
		if !alive {
			return m.stop(ctx)
		}
		if !ok {
			// Back on the committed title.
			continue
		}

		confirmed := Observe(snap)
		m.commit(ctx, snap, confirmed)
		committed, hasCommitted = confirmed, true

		if err := m.cfg.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return m.stop(ctx)
		}
	}
}

// superseded reports whether the loop must end. Any failure to read the
// record counts as superseded.
func (m *Monitor) superseded(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	kv, err := m.cfg.Status.GetKeyValue(m.cfg.StatusKey)
	if err != nil {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(string(kv.Value)), m.cfg.TaskKey) {
		return true
	}
	return m.cfg.Generation != 0 && kv.Revision != m.cfg.Generation
}

// confirm holds candidate through one uninterrupted SkipBuffer window,
// polling once per tick of at most one second. A different title discards
// the candidate and restarts the window on the new title. The last poll of
// the window is the snapshot to commit. ok is false when the signal returned
// to the committed title, alive is false when the monitor was superseded.
func (m *Monitor) confirm(ctx context.Context, candidate, committed Observation, hasCommitted bool) (snap track.Snapshot, ok, alive bool) {
	for {
		m.transition(StateConfirming, candidate)
		obs, last, alive := m.buffer(ctx, candidate)
		if !alive {
			return track.Snapshot{}, false, false
		}
		if obs == candidate {
			return last, true, true
		}

		m.logger.Debug("candidate_discarded", map[string]interface{}{
			"candidate": candidate.String(),
			"now":       obs.String(),
		})
		if hasCommitted && obs == committed {
			m.transition(settled(committed, true), committed)
			return track.Snapshot{}, false, true
		}
		candidate = obs
	}
}

// buffer sleeps through the skip buffer in ticks, checking for supersession
// and polling after each one. It returns early with the first observation
// that differs from candidate. A zero buffer polls once.
func (m *Monitor) buffer(ctx context.Context, candidate Observation) (Observation, track.Snapshot, bool) {
	remaining := m.cfg.SkipBuffer
	for {
		step := min(bufferTick, remaining)
		if step > 0 {
			if err := m.cfg.Sleep(ctx, step); err != nil {
				return Observation{}, track.Snapshot{}, false
			}
		}
		remaining -= step
		if m.superseded(ctx) {
			return Observation{}, track.Snapshot{}, false
		}
		snap, obs := m.poll(ctx)
		if obs != candidate || remaining <= 0 {
			return obs, snap, true
		}
	}
}

// poll fetches a snapshot. Fetch errors count as not playing.
func (m *Monitor) poll(ctx context.Context) (track.Snapshot, Observation) {
	spanCtx, span := m.cfg.Tracer.StartFetchSpan(ctx, "lastfm")
	snap, err := m.cfg.Source.Current(spanCtx)
	m.cfg.Tracer.EndFetchSpan(span, telemetry.FetchSpanOptions{Playing: snap.Playing, Title: snap.Title}, err)
	m.cfg.Metrics.Fetch("lastfm", err)

	if err != nil {
		m.logger.Warn("fetch_failed", map[string]interface{}{"error": err.Error()})
		return track.Snapshot{}, Observation{Idle: true}
	}
	return snap, Observe(snap)
}

func (m *Monitor) commit(ctx context.Context, snap track.Snapshot, obs Observation) {
	m.logger.TrackCommitted(snap.Title, snap.Artist, snap.Playing)
	m.cfg.Metrics.TrackCommitted(snap.Playing)
	if err := m.cfg.Presenter.Present(ctx, snap); err != nil {
		m.logger.Error("present_failed", map[string]interface{}{
			"title": obs.String(),
			"error": err.Error(),
		})
	}
	m.transition(settled(obs, true), obs)
}

func (m *Monitor) stop(ctx context.Context) error {
	m.transition(StateStopped, Observation{})
	return ctx.Err()
}

func (m *Monitor) transition(to State, obs Observation) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.logger.MonitorTransition(from.String(), to.String(), obs.String())
	m.cfg.Metrics.SetMonitorState(to.String())
}

// settled is the resting state for a committed observation.
func settled(obs Observation, has bool) State {
	if !has || obs.Idle {
		return StateIdle
	}
	return StatePlaying
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
