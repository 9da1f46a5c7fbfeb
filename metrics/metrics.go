// Package metrics holds the Prometheus collectors of the panel controller.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the controller's collectors.
type Metrics struct {
	tasksRequested *prometheus.CounterVec
	taskExits      *prometheus.CounterVec
	activeTask     *prometheus.GaugeVec
	statusFailures prometheus.Counter
	monitorState   *prometheus.GaugeVec
	trackCommits   *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	framesShown    *prometheus.CounterVec
	renderSeconds  *prometheus.HistogramVec
}

// New creates the collectors and registers them on registry.
// Returns nil when registry is nil.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		tasksRequested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkpanel_task_requests_total",
				Help: "Task requests by kind and source",
			},
			[]string{"kind", "source"},
		),
		taskExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkpanel_task_exits_total",
				Help: "Finished task runs by kind and final status",
			},
			[]string{"kind", "status"},
		),
		activeTask: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inkpanel_active_task",
				Help: "1 for the task kind currently held by the supervisor",
			},
			[]string{"kind"},
		),
		statusFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inkpanel_status_write_failures_total",
				Help: "Failed writes of the active-task record",
			},
		),
		monitorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inkpanel_monitor_state",
				Help: "1 for the current now-playing monitor state",
			},
			[]string{"state"},
		),
		trackCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkpanel_track_commits_total",
				Help: "Committed now-playing changes by outcome",
			},
			[]string{"outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkpanel_upstream_fetches_total",
				Help: "Upstream fetches by source and result",
			},
			[]string{"upstream", "result"},
		),
		framesShown: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkpanel_frames_shown_total",
				Help: "Frames pushed to the panel by layout",
			},
			[]string{"layout"},
		),
		renderSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inkpanel_render_seconds",
				Help:    "Time to render and show a frame",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"layout"},
		),
	}

	registry.MustRegister(
		m.tasksRequested,
		m.taskExits,
		m.activeTask,
		m.statusFailures,
		m.monitorState,
		m.trackCommits,
		m.fetches,
		m.framesShown,
		m.renderSeconds,
	)
	return m
}

// TaskRequested counts a task request.
func (m *Metrics) TaskRequested(kind, source string) {
	if m != nil {
		m.tasksRequested.WithLabelValues(kind, source).Inc()
	}
}

// TaskExited counts a finished run.
func (m *Metrics) TaskExited(kind, status string) {
	if m != nil {
		m.taskExits.WithLabelValues(kind, status).Inc()
	}
}

// SetActiveTask marks kind as the held task. An empty kind clears the gauge.
func (m *Metrics) SetActiveTask(kind string) {
	if m == nil {
		return
	}
	m.activeTask.Reset()
	if kind != "" {
		m.activeTask.WithLabelValues(kind).Set(1)
	}
}

// StatusWriteFailed counts a failed active-task record write.
func (m *Metrics) StatusWriteFailed() {
	if m != nil {
		m.statusFailures.Inc()
	}
}

// SetMonitorState marks the monitor's current state.
func (m *Metrics) SetMonitorState(state string) {
	if m == nil {
		return
	}
	m.monitorState.Reset()
	m.monitorState.WithLabelValues(state).Set(1)
}

// TrackCommitted counts a committed change; playing selects the outcome label.
func (m *Metrics) TrackCommitted(playing bool) {
	if m == nil {
		return
	}
	outcome := "idle"
	if playing {
		outcome = "playing"
	}
	m.trackCommits.WithLabelValues(outcome).Inc()
}

// Fetch counts an upstream call.
func (m *Metrics) Fetch(upstream string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(upstream, result).Inc()
}

// FrameShown counts a frame and observes how long it took.
func (m *Metrics) FrameShown(layout string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.framesShown.WithLabelValues(layout).Inc()
	m.renderSeconds.WithLabelValues(layout).Observe(elapsed.Seconds())
}
