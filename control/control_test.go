package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/inkpanel/display"
	"github.com/vinayprograms/inkpanel/metrics"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/supervisor"
	"github.com/vinayprograms/inkpanel/tasks"
)

const statusKey = "state.txt"

// newStack wires a real supervisor with a no-op runner over a memory store.
func newStack(t *testing.T, mutate func(*Config)) (*httptest.Server, *state.MemoryStore, *supervisor.Supervisor) {
	t.Helper()
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	runner := supervisor.RunnerFunc(func(ctx context.Context, spec tasks.Spec, _ uint64) error {
		if spec.Kind.Persistent() {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	ledger := tasks.NewLedger(store)
	sup := supervisor.New(supervisor.Config{
		Store:     store,
		StatusKey: statusKey,
		Launcher:  supervisor.NewInProcessLauncher(runner),
		Ledger:    ledger,
	})
	t.Cleanup(func() { sup.Stop(context.Background()) })

	cfg := Config{
		Supervisor:   sup,
		Watcher:      store,
		StatusKey:    statusKey,
		Runs:         ledger,
		PingInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	return srv, store, sup
}

// noRedirect keeps 303 responses visible to the test.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func getStatus(t *testing.T, base string) supervisor.StatusInfo {
	t.Helper()
	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var info supervisor.StatusInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return info
}

// ============================================================================
// Task requests
// ============================================================================

func TestRun_RedirectsAndUpdatesStatus(t *testing.T) {
	srv, _, _ := newStack(t, nil)

	resp, err := noRedirect.Get(srv.URL + "/run/weather")
	if err != nil {
		t.Fatalf("GET /run/weather: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Errorf("got %d to %q, want 303 to /", resp.StatusCode, resp.Header.Get("Location"))
	}
	if got := getStatus(t, srv.URL).Status; got != "Weather" {
		t.Errorf("status = %q, want Weather", got)
	}
}

func TestRun_UnknownKeyIsNoop(t *testing.T) {
	srv, store, _ := newStack(t, nil)
	store.Put(statusKey, []byte("music"), 0)

	resp, err := noRedirect.Get(srv.URL + "/run/birthday")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status code = %d, want 303", resp.StatusCode)
	}
	if got := getStatus(t, srv.URL).Status; got != "Music" {
		t.Errorf("status = %q, want Music unchanged", got)
	}
}

func TestMessage(t *testing.T) {
	srv, _, sup := newStack(t, nil)

	resp, err := noRedirect.PostForm(srv.URL+"/message", url.Values{"text_input": {"Dinner at 7"}})
	if err != nil {
		t.Fatalf("POST /message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status code = %d, want 303", resp.StatusCode)
	}
	if got := sup.QueryStatus(); got != "Message" {
		t.Errorf("status = %q, want Message", got)
	}
}

func TestMessage_EmptyIgnored(t *testing.T) {
	srv, _, sup := newStack(t, nil)

	resp, err := noRedirect.PostForm(srv.URL+"/message", url.Values{"text_input": {"  "}})
	if err != nil {
		t.Fatalf("POST /message: %v", err)
	}
	resp.Body.Close()
	if got := sup.QueryStatus(); got != "Idle" {
		t.Errorf("status = %q, want Idle", got)
	}
}

func TestRun_WrongMethod(t *testing.T) {
	srv, _, _ := newStack(t, nil)

	resp, err := http.Get(srv.URL + "/message")
	if err != nil {
		t.Fatalf("GET /message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", resp.StatusCode)
	}
}

func TestIndex(t *testing.T) {
	srv, store, _ := newStack(t, nil)
	store.Put(statusKey, []byte("dashboard"), 0)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	page := string(body)
	for _, want := range []string{`<span id="status">Dashboard</span>`, `href="/run/weather"`, `name="text_input"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %s", want)
		}
	}
	if strings.Contains(page, `href="/run/message"`) {
		t.Error("message should only be reachable through the form")
	}
}

// ============================================================================
// Status
// ============================================================================

func TestStatus_IdleWhenAbsent(t *testing.T) {
	srv, _, _ := newStack(t, nil)

	want := supervisor.StatusInfo{Status: "Idle"}
	if diff := cmp.Diff(want, getStatus(t, srv.URL)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusStream(t *testing.T) {
	srv, store, _ := newStack(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first supervisor.StatusInfo
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Status != "Idle" {
		t.Errorf("initial status = %q, want Idle", first.Status)
	}

	rev, _ := store.Put(statusKey, []byte("weather"), 0)

	var next supervisor.StatusInfo
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	want := supervisor.StatusInfo{Status: "Weather", Revision: rev}
	if diff := cmp.Diff(want, next); diff != "" {
		t.Errorf("update mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================================
// Stats, runs, preview, metrics
// ============================================================================

type fixedStats struct{ cpu, ram float64 }

func (f fixedStats) CPUPercent() float64 { return f.cpu }
func (f fixedStats) RAMPercent() float64 { return f.ram }

func TestStats(t *testing.T) {
	srv, _, _ := newStack(t, func(c *Config) { c.Stats = fixedStats{cpu: 12.345, ram: 40.06} })

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]float64
	json.NewDecoder(resp.Body).Decode(&got)

	want := map[string]float64{"cpu": 12.3, "ram": 40.1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRuns(t *testing.T) {
	srv, _, _ := newStack(t, nil)

	noRedirect.Get(srv.URL + "/run/clean")
	noRedirect.Get(srv.URL + "/run/music")

	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatalf("GET /api/runs: %v", err)
	}
	defer resp.Body.Close()
	var runs []tasks.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Kind != "music" {
		t.Errorf("newest run = %q, want music", runs[0].Kind)
	}
}

func TestPreview(t *testing.T) {
	driver := display.NewMemoryDriver(display.DefaultWidth, display.DefaultHeight)
	pub := display.NewPublisher(driver)
	srv, _, _ := newStack(t, func(c *Config) { c.Preview = pub })

	resp, err := http.Get(srv.URL + "/preview.png")
	if err != nil {
		t.Fatalf("GET /preview.png: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != display.DefaultWidth || b.Dy() != display.DefaultHeight {
		t.Errorf("preview size = %v", b)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.StatusWriteFailed()
	srv, _, _ := newStack(t, func(c *Config) { c.Registry = reg })

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(body, []byte("inkpanel_")) {
		t.Errorf("metrics output missing inkpanel series:\n%s", body)
	}
}

func TestOptionalRoutesNotFound(t *testing.T) {
	srv, _, _ := newStack(t, func(c *Config) { c.Runs = nil })

	for _, path := range []string{"/api/stats", "/api/runs", "/preview.png", "/system/reboot", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newStack(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status code = %d", resp.StatusCode)
	}
}

// ============================================================================
// Host actions
// ============================================================================

type recordedExec struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordedExec) run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func TestHost_Command(t *testing.T) {
	h := NewHost(HostConfig{ServiceName: "inky-dashboard.service", AllowPower: true})
	tests := []struct {
		action string
		want   []string
	}{
		{ActionShutdown, []string{"sudo", "shutdown", "-h", "now"}},
		{ActionReboot, []string{"sudo", "reboot"}},
		{ActionRestartService, []string{"sudo", "systemctl", "restart", "inky-dashboard.service"}},
	}
	for _, tt := range tests {
		got, err := h.Command(tt.action)
		if err != nil {
			t.Errorf("Command(%s): %v", tt.action, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Command(%s) mismatch (-want +got):\n%s", tt.action, diff)
		}
	}

	if _, err := h.Command("format_disk"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action err = %v", err)
	}
}

func TestHost_PowerDisabled(t *testing.T) {
	h := NewHost(HostConfig{ServiceName: "x.service", Sudo: "-"})
	if _, err := h.Command(ActionReboot); !errors.Is(err, ErrPowerDisabled) {
		t.Errorf("reboot err = %v, want ErrPowerDisabled", err)
	}
	got, err := h.Command(ActionRestartService)
	if err != nil {
		t.Fatalf("restart_service: %v", err)
	}
	if diff := cmp.Diff([]string{"systemctl", "restart", "x.service"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSystemRoute(t *testing.T) {
	rec := &recordedExec{}
	host := NewHost(HostConfig{ServiceName: "inky-dashboard.service", Exec: rec.run})
	srv, _, _ := newStack(t, func(c *Config) { c.Host = host })

	tests := []struct {
		path string
		code int
	}{
		{"/system/restart_service", http.StatusSeeOther},
		{"/system/reboot", http.StatusForbidden},
		{"/system/format_disk", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := noRedirect.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.code)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := [][]string{{"sudo", "systemctl", "restart", "inky-dashboard.service"}}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("exec calls mismatch (-want +got):\n%s", diff)
	}
}

func TestServeListener_Shutdown(t *testing.T) {
	srv, _, sup := newStack(t, nil)
	srv.Close()

	s := New(Config{Supervisor: sup})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
