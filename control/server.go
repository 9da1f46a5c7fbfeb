package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/logging"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/supervisor"
	"github.com/vinayprograms/inkpanel/tasks"
)

const (
	maxFormBytes = 64 << 10
	maxRuns      = 50
	sourceHTTP   = "http"
)

// Supervisor is the part of the task supervisor the control plane uses.
type Supervisor interface {
	RequestKey(ctx context.Context, key, text, source string) (supervisor.Active, bool, error)
	Status() supervisor.StatusInfo
}

// Watcher notifies about record changes.
type Watcher interface {
	Watch(ctx context.Context, pattern string) (<-chan *state.KeyValue, error)
}

// StatsSource reports host utilization.
type StatsSource interface {
	CPUPercent() float64
	RAMPercent() float64
}

// RunLister lists recorded task runs.
type RunLister interface {
	List(ctx context.Context, status tasks.RunStatus) ([]*tasks.Run, error)
}

// Preview writes the last panel frame as PNG.
type Preview interface {
	WritePNG(w io.Writer) error
}

// HostActions runs host power and service actions.
type HostActions interface {
	Run(ctx context.Context, action string) error
}

// Config configures a Server. Only Supervisor is required; routes whose
// dependency is nil answer 404.
type Config struct {
	Supervisor Supervisor
	Watcher    Watcher
	StatusKey  string
	Stats      StatsSource
	Runs       RunLister
	Preview    Preview
	Host       HostActions
	Registry   *prometheus.Registry
	Logger     *logging.Logger

	// Stream settings. Defaults: 10s write timeout, 30s ping interval.
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Server is the HTTP control plane.
type Server struct {
	cfg    Config
	logger *logging.Logger
	mux    *http.ServeMux
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("control"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /run/{key}", s.handleRun)
	s.mux.HandleFunc("POST /message", s.handleMessage)
	s.mux.HandleFunc("GET /system/{action}", s.handleSystem)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	})
	if cfg.Registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the routes wrapped in panic recovery.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			s.logger.Error("handler_panic", map[string]interface{}{
				"path":  r.URL.Path,
				"panic": perrors.RecoverPanic(p).Error(),
				"stack": string(debug.Stack()),
			})
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		s.mux.ServeHTTP(w, r)
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln, shutdownTimeout)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("listening", map[string]interface{}{"addr": ln.Addr().String()})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.request(r, r.PathValue("key"), "")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	s.request(r, tasks.KindMessage.Key(), r.PostFormValue("text_input"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// request forwards to the supervisor. Failures are logged only; the page
// shows the resulting status.
func (s *Server) request(r *http.Request, key, text string) {
	_, _, err := s.cfg.Supervisor.RequestKey(r.Context(), key, text, sourceHTTP)
	switch {
	case err == nil:
	case perrors.Is(err, perrors.ErrCodeUnknownTask):
		s.logger.Info("unknown_task_ignored", map[string]interface{}{"key": key})
	default:
		s.logger.Error("task_request_failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Host == nil {
		http.NotFound(w, r)
		return
	}
	action := r.PathValue("action")
	err := s.cfg.Host.Run(r.Context(), action)
	switch {
	case errors.Is(err, ErrUnknownAction):
		http.NotFound(w, r)
		return
	case errors.Is(err, ErrPowerDisabled):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("host_action_failed", map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		})
	default:
		s.logger.Info("host_action", map[string]interface{}{"action": action})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Supervisor.Status())
}

type stats struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, stats{
		CPU: round1(s.cfg.Stats.CPUPercent()),
		RAM: round1(s.cfg.Stats.RAMPercent()),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runs == nil {
		http.NotFound(w, r)
		return
	}
	status := tasks.RunStatus(r.URL.Query().Get("status"))
	runs, err := s.cfg.Runs.List(r.Context(), status)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	if len(runs) > maxRuns {
		runs = runs[:maxRuns]
	}
	if runs == nil {
		runs = []*tasks.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Preview == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.cfg.Preview.WritePNG(w); err != nil {
		s.logger.Warn("preview_failed", map[string]interface{}{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
